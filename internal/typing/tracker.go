// Package typing tracks which remote users are currently composing in a
// conversation. Signals are best-effort: a user stays listed until an
// explicit stop or until no refresh arrives within the timeout.
package typing

import (
	"time"

	"github.com/matheus3301/casesync/internal/timer"
)

// DefaultTimeout is how long a typing signal stays live without a refresh.
const DefaultTimeout = 3000 * time.Millisecond

// Key identifies one typing entry.
type Key struct {
	CaseID string
	UserID string
}

// Tracker holds the active typing set for a single bound case. Not safe for
// concurrent use; expiries must be dispatched into the owner's context
// through the registry.
type Tracker struct {
	caseID  string
	timeout time.Duration
	timers  *timer.Registry[Key]
	active  map[Key]struct{}

	// OnExpire is called after a timer removes an entry.
	OnExpire func(Key)
}

// New creates a tracker bound to caseID. A non-positive timeout uses
// DefaultTimeout.
func New(caseID string, timeout time.Duration, timers *timer.Registry[Key]) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		caseID:  caseID,
		timeout: timeout,
		timers:  timers,
		active:  make(map[Key]struct{}),
	}
}

// OnSignal applies a typing signal. Signals for other cases are ignored.
// Reports whether the active set changed; a refresh of an already active
// user re-arms the timer without changing the set.
func (t *Tracker) OnSignal(caseID, userID string, isTyping bool) bool {
	if caseID != t.caseID || userID == "" {
		return false
	}
	key := Key{CaseID: caseID, UserID: userID}

	if !isTyping {
		t.timers.Cancel(key)
		if _, ok := t.active[key]; !ok {
			return false
		}
		delete(t.active, key)
		return true
	}

	_, already := t.active[key]
	t.active[key] = struct{}{}
	t.timers.Schedule(key, t.timeout, t.expire)
	return !already
}

func (t *Tracker) expire(key Key) {
	if _, ok := t.active[key]; !ok {
		return
	}
	delete(t.active, key)
	if t.OnExpire != nil {
		t.OnExpire(key)
	}
}

// Snapshot returns the users currently typing in caseID, in no particular
// order. Returns an empty slice for any case other than the bound one.
func (t *Tracker) Snapshot(caseID string) []string {
	users := make([]string, 0, len(t.active))
	if caseID != t.caseID {
		return users
	}
	for key := range t.active {
		users = append(users, key.UserID)
	}
	return users
}

// Active reports whether userID is currently typing.
func (t *Tracker) Active(userID string) bool {
	_, ok := t.active[Key{CaseID: t.caseID, UserID: userID}]
	return ok
}

// Reset clears every entry and cancels every pending expiry.
func (t *Tracker) Reset() {
	t.timers.Stop()
	clear(t.active)
}
