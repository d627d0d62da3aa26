package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called; AfterFunc callbacks run synchronously inside Advance in deadline
// order. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	seq      uint64
	fn       func()
	done     bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has advanced by d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	c.seq++
	w := &waiter{deadline: c.current.Add(d), seq: c.seq, fn: f}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.done {
			return false
		}
		w.done = true
		c.waiters = slices.DeleteFunc(c.waiters, func(x *waiter) bool { return x == w })
		return true
	}}
}

// Advance moves the clock forward by d, firing every due callback. While a
// callback runs, Now reports that callback's deadline, so timers armed from
// inside a callback are scheduled relative to it.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.waiters = slices.DeleteFunc(c.waiters, func(x *waiter) bool { return x == next })
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *FakeClock) nextDue(target time.Time) *waiter {
	var next *waiter
	for _, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) ||
			(w.deadline.Equal(next.deadline) && w.seq < next.seq) {
			next = w
		}
	}
	return next
}
