// Package chat holds the conversation domain types shared by the sync engine
// and its transports.
package chat

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Role is a participant's role in a case.
type Role string

const (
	RoleLawyer Role = "lawyer"
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// Participant identifies one side of a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Role        Role   `json:"role,omitempty"`
}

// Message is a single case message as delivered by either transport.
// Everything except ReadAt is immutable once received.
type Message struct {
	ID          string      `json:"id"`
	CaseID      string      `json:"case_id"`
	Sender      Participant `json:"sender"`
	RecipientID string      `json:"recipient_id"`
	Content     string      `json:"content"`
	Attachments []string    `json:"attachments,omitempty"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`

	// IsMine is derived locally from the bound user id.
	IsMine bool `json:"is_mine"`
}

// Read reports whether a read receipt has been applied.
func (m *Message) Read() bool { return m.ReadAt != nil }

// Compare orders messages by (CreatedAt, ID) ascending.
func Compare(a, b *Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Valid reports whether the message carries the fields needed to merge it.
func (m *Message) Valid() bool {
	return m.ID != "" && m.CaseID != "" && !m.CreatedAt.IsZero()
}

// ConversationSummary is one row of the conversation list. Summaries are
// rebuilt wholesale on refresh.
type ConversationSummary struct {
	CaseID        string      `json:"case_id"`
	CaseTitle     string      `json:"case_title"`
	OtherUser     Participant `json:"other_user"`
	LastMessage   string      `json:"last_message,omitempty"`
	LastMessageAt *time.Time  `json:"last_message_at,omitempty"`
	UnreadCount   int         `json:"unread_count"`
}

// UnreadCount aggregates unread messages for the local user.
type UnreadCount struct {
	Total  int            `json:"total"`
	ByCase map[string]int `json:"by_case"`
}

// SortConversations orders summaries by most recent activity, then case id.
func SortConversations(list []ConversationSummary) {
	slices.SortFunc(list, func(a, b ConversationSummary) int {
		at, bt := lastActivity(a), lastActivity(b)
		if c := bt.Compare(at); c != 0 {
			return c
		}
		return cmp.Compare(a.CaseID, b.CaseID)
	})
}

func lastActivity(c ConversationSummary) time.Time {
	if c.LastMessageAt == nil {
		return time.Time{}
	}
	return *c.LastMessageAt
}
