package transport

import (
	"fmt"
	"net/http"

	"github.com/matheus3301/casesync/internal/chat"
)

// MessageQuery selects a page of a conversation. An empty BeforeID fetches
// the most recent page.
type MessageQuery struct {
	OtherUserID string
	Limit       int
	BeforeID    string
}

// MessagePage is one page of history.
type MessagePage struct {
	Messages []chat.Message `json:"messages"`
	HasMore  bool           `json:"has_more"`
}

// SendRequest is the fallback send body.
type SendRequest struct {
	CaseID      string   `json:"case_id"`
	RecipientID string   `json:"recipient_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// MarkReadResult reports how many messages the server updated.
type MarkReadResult struct {
	MarkedCount int `json:"marked_count"`
}

// ConversationList is the conversation-list view.
type ConversationList struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
	TotalUnread   int                        `json:"total_unread"`
}

// APIError is a non-2xx response from the messaging API.
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api error: %d %s", e.Status, e.Detail)
}

// Temporary reports whether retrying the request later could succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
