package api

import (
	"time"

	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/status"
	"github.com/matheus3301/casesync/internal/sync"
)

// SnapshotView is the wire form of a conversation snapshot.
type SnapshotView struct {
	CaseID          string         `json:"case_id"`
	Version         uint64         `json:"version"`
	Messages        []chat.Message `json:"messages"`
	HasMore         bool           `json:"has_more"`
	TypingUsers     []string       `json:"typing_users"`
	ConnectionState status.State   `json:"connection_state"`
	Unread          int            `json:"unread"`
	Error           string         `json:"error,omitempty"`
}

// ViewOf converts a snapshot to its wire form.
func ViewOf(s sync.Snapshot) *SnapshotView {
	v := &SnapshotView{
		CaseID:          s.CaseID,
		Version:         s.Version,
		Messages:        s.Messages,
		HasMore:         s.HasMore,
		TypingUsers:     s.TypingUsers,
		ConnectionState: s.ConnectionState,
		Unread:          s.Unread(),
	}
	if v.Messages == nil {
		v.Messages = []chat.Message{}
	}
	if v.TypingUsers == nil {
		v.TypingUsers = []string{}
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

type GetSnapshotRequest struct{}

type SendMessageRequest struct {
	ClientMsgID string   `json:"client_msg_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type SendMessageResponse struct {
	ClientMsgID string `json:"client_msg_id"`
	Accepted    bool   `json:"accepted"`
}

type MarkReadRequest struct {
	// MessageIDs to mark. Empty means every unread message from the other
	// party in the current snapshot.
	MessageIDs []string `json:"message_ids"`
}

type MarkReadResponse struct {
	Requested int `json:"requested"`
}

type LoadMoreRequest struct{}

type LoadMoreResponse struct {
	Loaded  int  `json:"loaded"`
	HasMore bool `json:"has_more"`
}

type SetTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type SetTypingResponse struct {
	Sent bool `json:"sent"`
}

type ListConversationsRequest struct {
	// Cached returns the last good list without contacting the server.
	Cached bool `json:"cached"`
}

type ListConversationsResponse struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
	TotalUnread   int                        `json:"total_unread"`
	RefreshedAt   time.Time                  `json:"refreshed_at"`
	Stale         bool                       `json:"stale"`
}

type UnreadCountRequest struct{}

type HistoryRequest struct {
	CaseID   string `json:"case_id"`
	BeforeTs int64  `json:"before_ts"`
	BeforeID string `json:"before_id,omitempty"`
	Limit    int    `json:"limit"`
}

type HistoryResponse struct {
	Messages     []chat.Message `json:"messages"`
	HasMore      bool           `json:"has_more"`
	NextBeforeTs int64          `json:"next_before_ts,omitempty"`
	NextBeforeID string         `json:"next_before_id,omitempty"`
}

type WatchSnapshotsRequest struct{}

type UnreadCountResponse struct {
	Total  int            `json:"total"`
	ByCase map[string]int `json:"by_case"`
}
