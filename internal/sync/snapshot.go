package sync

import (
	"slices"

	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/status"
)

// Snapshot is an immutable view of one conversation. Each mutation produces
// a new Snapshot that fully replaces the previous one.
type Snapshot struct {
	CaseID          string
	Version         uint64
	Messages        []chat.Message
	HasMore         bool
	TypingUsers     []string
	ConnectionState status.State

	// Err is the most recent recoverable failure (fetch or channel). It is
	// cleared by the next successful fetch or reconnect.
	Err error
}

// Unread counts messages from the other party that have no read receipt.
func (s Snapshot) Unread() int {
	n := 0
	for i := range s.Messages {
		if !s.Messages[i].IsMine && !s.Messages[i].Read() {
			n++
		}
	}
	return n
}

// publish builds a snapshot from loop-owned state and makes it current.
func (c *Coordinator) publish() {
	c.version++
	users := c.typing.Snapshot(c.cfg.CaseID)
	slices.Sort(users)

	snap := &Snapshot{
		CaseID:          c.cfg.CaseID,
		Version:         c.version,
		Messages:        c.log.Messages(),
		HasMore:         c.hasMore,
		TypingUsers:     users,
		ConnectionState: c.state,
		Err:             c.lastErr,
	}
	c.current.Store(snap)

	c.bus.Publish(bus.Event{
		Kind:      bus.KindSnapshot,
		Key:       c.cfg.CaseID,
		Timestamp: c.clock.Now(),
		Payload:   *snap,
	})
}

// Snapshot returns the latest published snapshot. Safe to call from any
// goroutine.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.current.Load()
}

// Watch streams snapshots for this conversation. Slow readers skip
// intermediate snapshots but always receive the latest one.
func (c *Coordinator) Watch(buf int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(bus.KindSnapshot, c.cfg.CaseID, buf)
}
