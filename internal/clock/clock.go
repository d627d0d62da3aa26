// Package clock abstracts the time operations the sync engine depends on so
// that expiry and heartbeat logic can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the engine.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d elapses. The returned Timer cancels the
	// pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop prevents the Timer from firing. Returns false if the timer had
// already fired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
