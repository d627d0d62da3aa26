package bus

import "time"

// Event kinds published by the sync engine and its bindings.
const (
	KindSnapshot      = "conversation.snapshot"
	KindStatusChanged = "connection.status_changed"
)

// Event represents a domain event published on the bus.
// Key scopes the event to one conversation; empty means global.
type Event struct {
	Kind      string
	Key       string
	Timestamp time.Time
	Payload   any
}
