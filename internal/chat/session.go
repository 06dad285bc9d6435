package chat

import (
	"context"
	"sync"

	"marketchat/internal/types"
)

// Channel is the duplex event connection a session listens on.
type Channel interface {
	Emitter
	// On registers fn for events of type t and returns its removal.
	On(t types.EventType, fn func(env types.Envelope)) (off func())
	// OnReconnect registers fn to run after the connection came back.
	OnReconnect(fn func()) (off func())
}

// Session binds a Pane to a Channel and owns the loop the pane runs on.
// Listeners are attached while a room is active and detached on Leave.
type Session struct {
	ch   Channel
	pane *Pane
	loop chan func()
	done chan struct{}
	exec *GoExecutor
	offs []func()
	once sync.Once
}

// NewSession builds the pane. When d.Post is nil the session runs its own
// loop and Run must be called; otherwise the host's loop is used.
func NewSession(ctx context.Context, ch Channel, d Deps) *Session {
	s := &Session{ch: ch, done: make(chan struct{})}
	if d.Post == nil {
		s.loop = make(chan func(), 256)
		d.Post = s.post
	}
	if d.Executor == nil {
		s.exec = NewGoExecutor(ctx, d.Post)
		d.Executor = s.exec
	}
	d.Emitter = ch
	s.pane = NewPane(d)
	return s
}

func (s *Session) post(fn func()) {
	select {
	case s.loop <- fn:
	case <-s.done:
	}
}

// Run drains the loop until ctx is cancelled, then leaves the room.
func (s *Session) Run(ctx context.Context) {
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.loop:
			fn()
		}
	}
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		s.Leave()
		close(s.done)
		if s.exec != nil {
			s.exec.Close()
		}
	})
}

// Close leaves the room and stops background work. Hosts that own the
// loop call it from the loop instead of Run.
func (s *Session) Close() { s.shutdown() }

// Do runs fn on the loop.
func (s *Session) Do(fn func(p *Pane)) {
	s.pane.post(func() { fn(s.pane) })
}

// Pane must only be used from the loop.
func (s *Session) Pane() *Pane { return s.pane }

// Open must run on the loop.
func (s *Session) Open(roomID string) {
	s.bind()
	s.pane.Open(roomID)
}

// Leave must run on the loop.
func (s *Session) Leave() {
	s.pane.Leave()
	s.unbind()
}

func (s *Session) bind() {
	if len(s.offs) > 0 {
		return
	}
	post := s.pane.post
	for _, t := range LiveEvents {
		s.offs = append(s.offs, s.ch.On(t, func(env types.Envelope) {
			post(func() { s.pane.HandleEvent(env) })
		}))
	}
	s.offs = append(s.offs, s.ch.OnReconnect(func() {
		post(s.pane.Resync)
	}))
}

func (s *Session) unbind() {
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
}
