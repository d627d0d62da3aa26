// Package channel defines the persistent-channel wire format and a WebSocket
// implementation of it.
package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/casesync/internal/chat"
)

// Outbound envelope types.
const (
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeMarkRead    = "mark_read"
	TypePing        = "ping"
)

// Inbound envelope types.
const (
	TypeNewMessage      = "new_message"
	TypeReadReceipt     = "read_receipt"
	TypeOfflineMessages = "offline_messages"
	TypeError           = "error"
	TypePong            = "pong"
)

// Envelope is the wire frame for every channel message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewEnvelope encodes payload under the given type and stamps a request id.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, RequestID: uuid.NewString()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// SendMessagePayload asks the server to persist and fan out a message.
type SendMessagePayload struct {
	CaseID      string   `json:"case_id"`
	RecipientID string   `json:"recipient_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// TypingPayload is used for both outbound and inbound typing signals. The
// server fills UserID on relay.
type TypingPayload struct {
	CaseID      string `json:"case_id"`
	UserID      string `json:"user_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	IsTyping    bool   `json:"is_typing"`
}

// MarkReadPayload marks messages read on the server.
type MarkReadPayload struct {
	MessageIDs []string `json:"message_ids"`
}

// ReadReceiptPayload notifies that the other party read messages.
type ReadReceiptPayload struct {
	MessageIDs []string   `json:"message_ids"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// OfflineMessagesPayload replays messages queued while disconnected.
type OfflineMessagesPayload struct {
	Messages []chat.Message `json:"messages"`
}

// ErrorPayload carries a server-reported channel error.
type ErrorPayload struct {
	Message string `json:"message"`
}
