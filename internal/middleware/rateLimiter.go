package middleware

import (
	"sync/atomic"
	"time"
)

const (
	burstLimit = 5
	refillRate = 500 * time.Millisecond
)

// RateLimiter is a lock free token bucket: burst tokens, one more every
// rate.
type RateLimiter struct {
	token    int32
	rate     time.Duration
	burst    int32
	lastTick int64
	now      func() time.Time
}

func NewRatelimiter(burst int32, rate time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = burstLimit
	}
	if rate <= 0 {
		rate = refillRate
	}
	return &RateLimiter{
		token:    burst,
		rate:     rate,
		burst:    burst,
		lastTick: time.Now().UnixNano(),
		now:      time.Now,
	}
}

func (l *RateLimiter) Allow() bool {
	now := l.now().UnixNano()
	last := atomic.LoadInt64(&l.lastTick)
	generated := int32((now - last) / int64(l.rate))

	if generated > 0 {
		// Advance by whole periods only so partial progress is kept.
		next := last + int64(generated)*int64(l.rate)
		if atomic.CompareAndSwapInt64(&l.lastTick, last, next) {
			for {
				current := atomic.LoadInt32(&l.token)
				balance := min(current+generated, l.burst)
				if atomic.CompareAndSwapInt32(&l.token, current, balance) {
					break
				}
			}
		}
	}

	for {
		current := atomic.LoadInt32(&l.token)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.token, current, current-1) {
			return true
		}
	}
}
