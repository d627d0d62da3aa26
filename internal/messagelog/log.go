// Package messagelog keeps the ordered, duplicate-free message list of one
// conversation.
package messagelog

import (
	"time"

	"github.com/google/btree"

	"github.com/matheus3301/casesync/internal/chat"
)

const degree = 16

// Log is an ordered set of messages keyed by server id. Entries are kept in
// ascending (CreatedAt, ID) order regardless of insertion order. Log is not
// safe for concurrent use; it is owned by a single coordinator loop.
type Log struct {
	tree *btree.BTreeG[*chat.Message]
	byID map[string]*chat.Message
}

// New returns an empty log.
func New() *Log {
	return &Log{
		tree: btree.NewG(degree, func(a, b *chat.Message) bool { return chat.Compare(a, b) < 0 }),
		byID: make(map[string]*chat.Message),
	}
}

// Append inserts msg unless an entry with the same id exists. Reports
// whether the log changed.
func (l *Log) Append(msg chat.Message) bool {
	if _, ok := l.byID[msg.ID]; ok {
		return false
	}
	m := msg
	l.byID[m.ID] = &m
	l.tree.ReplaceOrInsert(&m)
	return true
}

// Prepend merges an older page. The batch may overlap existing entries and
// need not be ordered. Returns the number of messages inserted.
func (l *Log) Prepend(batch []chat.Message) int {
	n := 0
	for _, m := range batch {
		if l.Append(m) {
			n++
		}
	}
	return n
}

// MarkRead stamps at on every known, unread message in ids. Unknown ids are
// ignored. Returns the number of messages updated.
func (l *Log) MarkRead(ids []string, at time.Time) int {
	n := 0
	for _, id := range ids {
		m, ok := l.byID[id]
		if !ok || m.ReadAt != nil {
			continue
		}
		ts := at
		m.ReadAt = &ts
		n++
	}
	return n
}

// Messages returns a copy of the log in order.
func (l *Log) Messages() []chat.Message {
	out := make([]chat.Message, 0, l.tree.Len())
	l.tree.Ascend(func(m *chat.Message) bool {
		out = append(out, *m)
		return true
	})
	return out
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (chat.Message, bool) {
	m, ok := l.byID[id]
	if !ok {
		return chat.Message{}, false
	}
	return *m, true
}

// Contains reports whether id is in the log.
func (l *Log) Contains(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// Oldest returns the first message in order.
func (l *Log) Oldest() (chat.Message, bool) {
	m, ok := l.tree.Min()
	if !ok {
		return chat.Message{}, false
	}
	return *m, true
}

// Len returns the number of messages.
func (l *Log) Len() int { return l.tree.Len() }

// Clear drops every message.
func (l *Log) Clear() {
	l.tree.Clear(false)
	clear(l.byID)
}
