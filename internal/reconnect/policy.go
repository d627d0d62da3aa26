// Package reconnect re-binds the persistent channel after failures. It sits
// outside the sync core: the connection manager never reconnects by itself.
package reconnect

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy decides how long to wait before reconnect attempt n (zero-based).
// ok=false means give up.
type Policy interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// Backoff is exponential backoff with additive jitter.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int     // zero means unlimited
	Jitter      float64 // fraction of Base added at random, 0..1

	rand func() float64
}

// DefaultBackoff waits 1s, 2s, 4s ... capped at 30s, for up to 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10, Jitter: 0.5}
}

// Next implements Policy.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	jitter := r() * b.Jitter * float64(base)
	delay := math.Min(float64(base)*math.Pow(2, float64(attempt))+jitter, float64(maxDelay))
	return time.Duration(delay), true
}

// Never is a Policy that never reconnects.
type Never struct{}

// Next implements Policy.
func (Never) Next(int) (time.Duration, bool) { return 0, false }
