package chat

import (
	"context"
	"sync"
	"time"
)

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// GoExecutor runs work on its own goroutine and posts done back to the
// loop. Close cancels the context handed to work still in flight.
type GoExecutor struct {
	post   func(func())
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGoExecutor(parent context.Context, post func(func())) *GoExecutor {
	ctx, cancel := context.WithCancel(parent)
	return &GoExecutor{post: post, ctx: ctx, cancel: cancel}
}

func (e *GoExecutor) Go(work func(ctx context.Context), done func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		work(e.ctx)
		if e.ctx.Err() != nil {
			return
		}
		e.post(done)
	}()
}

func (e *GoExecutor) Close() {
	e.cancel()
	e.wg.Wait()
}
