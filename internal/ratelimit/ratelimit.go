// Package ratelimit implements a global token bucket bounding aggregate
// outbound binlog bytes, configured as MiB/sec (spec.md §5, §6).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a simple token bucket. No third-party rate-limiting library
// appears anywhere in the example pack, so this is plain stdlib
// sync+time — see DESIGN.md.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens/sec
	lastRefill time.Time

	now func() time.Time
}

// NewLimiter creates a limiter that sustains ratePerSec bytes/sec, with a
// burst capacity of one second's worth of tokens.
func NewLimiter(ratePerSec float64) *Limiter {
	return &Limiter{
		tokens:     ratePerSec,
		capacity:   ratePerSec,
		refillRate: ratePerSec,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// NewMiBLimiter creates a limiter from a MiB/sec rate, matching the
// binlogRateLimitMB config parameter.
func NewMiBLimiter(mibPerSec float64) *Limiter {
	return NewLimiter(mibPerSec * 1024 * 1024)
}

func (l *Limiter) refill() {
	elapsed := l.now().Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = l.now()
}

// WaitN blocks until n bytes worth of tokens are available, or ctx is
// canceled. It consumes n tokens (even if n exceeds capacity, in which case
// it waits for the bucket to fully refill at least once).
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	need := float64(n)
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= need || (need > l.capacity && l.tokens >= l.capacity) {
			l.tokens -= need
			l.mu.Unlock()
			return nil
		}
		deficit := need - l.tokens
		wait := time.Duration(deficit / l.refillRate * float64(time.Second))
		l.mu.Unlock()

		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
