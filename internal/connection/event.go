package connection

import (
	"time"

	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/status"
)

// Kind classifies a normalized channel event.
type Kind string

const (
	KindMessage       Kind = "message"
	KindTyping        Kind = "typing"
	KindReadReceipt   Kind = "read_receipt"
	KindOfflineBatch  Kind = "offline_batch"
	KindStatusChanged Kind = "status_changed"
	KindError         Kind = "error"
)

// Event is a structurally validated inbound event. Only the fields relevant
// to Kind are set. CaseID is empty for events that are not scoped to one
// conversation; those are delivered to every subscriber.
type Event struct {
	Kind   Kind
	CaseID string

	Message chat.Message // KindMessage

	UserID   string // KindTyping
	IsTyping bool   // KindTyping

	MessageIDs []string   // KindReadReceipt
	ReadAt     *time.Time // KindReadReceipt, optional

	Messages []chat.Message // KindOfflineBatch

	State  status.State // KindStatusChanged
	Reason string       // KindStatusChanged

	Err error // KindError, always a *TransportError
}
