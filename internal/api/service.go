// Package api exposes one bound conversation to local clients over gRPC.
package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/inbox"
	"github.com/matheus3301/casesync/internal/store"
	"github.com/matheus3301/casesync/internal/sync"
)

// Conversation is the coordinator surface the service drives.
type Conversation interface {
	Snapshot() sync.Snapshot
	Watch(buf int) (<-chan bus.Event, func())
	SendMessage(ctx context.Context, content string, attachments []string) error
	LoadMore(ctx context.Context) error
	MarkAsRead(ctx context.Context, ids []string) error
	SendTyping(ctx context.Context, isTyping bool) error
}

// Inbox is the conversation list surface.
type Inbox interface {
	Refresh(ctx context.Context) (inbox.View, error)
	Unread(ctx context.Context) (chat.UnreadCount, error)
	Current() inbox.View
}

// History reads the local transcript mirror.
type History interface {
	ListMessages(caseID string, before store.Cursor, limit int) ([]store.Message, error)
}

// Service implements ConversationServer.
type Service struct {
	conv    Conversation
	inbox   Inbox
	history History
	logger  *zap.Logger
}

var _ ConversationServer = (*Service)(nil)

// NewService creates the service. history may be nil when the mirror is
// disabled.
func NewService(conv Conversation, ib Inbox, history History, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{conv: conv, inbox: ib, history: history, logger: logger.Named("api")}
}

func (s *Service) GetSnapshot(_ context.Context, _ *GetSnapshotRequest) (*SnapshotView, error) {
	return ViewOf(s.conv.Snapshot()), nil
}

func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	s.logger.Debug("send requested", zap.String("client_msg_id", req.ClientMsgID))
	if err := s.conv.SendMessage(ctx, req.Content, req.Attachments); err != nil {
		s.logger.Warn("send failed", zap.String("client_msg_id", req.ClientMsgID), zap.Error(err))
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{ClientMsgID: req.ClientMsgID, Accepted: true}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	ids := req.MessageIDs
	if len(ids) == 0 {
		ids = unreadFromOther(s.conv.Snapshot())
	}
	if len(ids) == 0 {
		return &MarkReadResponse{}, nil
	}
	if err := s.conv.MarkAsRead(ctx, ids); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &MarkReadResponse{Requested: len(ids)}, nil
}

func (s *Service) LoadMore(ctx context.Context, _ *LoadMoreRequest) (*LoadMoreResponse, error) {
	before := len(s.conv.Snapshot().Messages)
	if err := s.conv.LoadMore(ctx); err != nil {
		return nil, toStatus("load more", err)
	}
	after := s.conv.Snapshot()
	return &LoadMoreResponse{Loaded: len(after.Messages) - before, HasMore: after.HasMore}, nil
}

func (s *Service) SetTyping(ctx context.Context, req *SetTypingRequest) (*SetTypingResponse, error) {
	if err := s.conv.SendTyping(ctx, req.IsTyping); err != nil {
		return nil, toStatus("set typing", err)
	}
	return &SetTypingResponse{Sent: true}, nil
}

func (s *Service) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	var (
		view  inbox.View
		stale bool
	)
	if req.Cached {
		view = s.inbox.Current()
	} else {
		var err error
		view, err = s.inbox.Refresh(ctx)
		if err != nil {
			if view.RefreshedAt.IsZero() {
				return nil, toStatus("list conversations", err)
			}
			stale = true
		}
	}
	convs := view.Conversations
	if convs == nil {
		convs = []chat.ConversationSummary{}
	}
	return &ListConversationsResponse{
		Conversations: convs,
		TotalUnread:   view.TotalUnread,
		RefreshedAt:   view.RefreshedAt,
		Stale:         stale,
	}, nil
}

func (s *Service) UnreadCount(ctx context.Context, _ *UnreadCountRequest) (*UnreadCountResponse, error) {
	u, err := s.inbox.Unread(ctx)
	if err != nil {
		return nil, toStatus("unread count", err)
	}
	return &UnreadCountResponse{Total: u.Total, ByCase: u.ByCase}, nil
}

func (s *Service) History(_ context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if s.history == nil {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "transcript mirror disabled")
	}
	caseID := req.CaseID
	if caseID == "" {
		caseID = s.conv.Snapshot().CaseID
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	before := store.Cursor{CreatedAt: req.BeforeTs, MsgID: req.BeforeID}
	rows, err := s.history.ListMessages(caseID, before, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list history: %v", err)
	}

	resp := &HistoryResponse{Messages: make([]chat.Message, 0, len(rows)), HasMore: len(rows) == limit}
	for i := range rows {
		resp.Messages = append(resp.Messages, toChat(&rows[i]))
	}
	if resp.HasMore {
		last := &rows[len(rows)-1]
		resp.NextBeforeTs, resp.NextBeforeID = last.CreatedAt, last.MsgID
	}
	return resp, nil
}

func (s *Service) WatchSnapshots(_ *WatchSnapshotsRequest, stream grpc.ServerStreamingServer[SnapshotView]) error {
	ch, unsub := s.conv.Watch(16)
	defer unsub()

	last := s.conv.Snapshot()
	if err := stream.Send(ViewOf(last)); err != nil {
		return err
	}

	for {
		select {
		case evt := <-ch:
			snap, ok := evt.Payload.(sync.Snapshot)
			if !ok || snap.Version <= last.Version {
				continue
			}
			last = snap
			if err := stream.Send(ViewOf(snap)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func unreadFromOther(s sync.Snapshot) []string {
	var ids []string
	for i := range s.Messages {
		if !s.Messages[i].IsMine && !s.Messages[i].Read() {
			ids = append(ids, s.Messages[i].ID)
		}
	}
	return ids
}

func toChat(m *store.Message) chat.Message {
	out := chat.Message{
		ID:          m.MsgID,
		CaseID:      m.CaseID,
		Sender:      chat.Participant{ID: m.SenderID, DisplayName: m.SenderName, Role: chat.Role(m.SenderRole)},
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Attachments: m.Attachments,
		CreatedAt:   time.UnixMilli(m.CreatedAt).UTC(),
	}
	if m.ReadAt > 0 {
		t := time.UnixMilli(m.ReadAt).UTC()
		out.ReadAt = &t
	}
	return out
}
