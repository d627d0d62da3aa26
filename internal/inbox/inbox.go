// Package inbox maintains the conversation-list view: one summary per case
// plus unread totals, rebuilt wholesale on every successful refresh.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/transport"
)

// ErrFetchFailed wraps a failed list or unread read. The previous view is
// returned alongside it.
var ErrFetchFailed = errors.New("fetch failed")

// Source is the read surface the inbox needs.
type Source interface {
	FetchConversations(ctx context.Context) (*transport.ConversationList, error)
	FetchUnreadCount(ctx context.Context) (*chat.UnreadCount, error)
}

// View is an immutable conversation list.
type View struct {
	Conversations []chat.ConversationSummary
	TotalUnread   int
	Unread        chat.UnreadCount
	RefreshedAt   time.Time
}

// Inbox caches the last good View.
type Inbox struct {
	src    Source
	logger *zap.Logger

	mu   sync.RWMutex
	last View
}

// New creates an inbox backed by src.
func New(src Source, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{src: src, logger: logger.Named("inbox")}
}

// Refresh fetches the conversation list and unread counts concurrently and
// replaces the cached view. On failure the cached view is returned with an
// ErrFetchFailed error.
func (i *Inbox) Refresh(ctx context.Context) (View, error) {
	var (
		list   *transport.ConversationList
		unread *chat.UnreadCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = i.src.FetchConversations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = i.src.FetchUnreadCount(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		i.logger.Warn("conversation list refresh failed", zap.Error(err))
		return i.Current(), fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	view := View{
		Conversations: append([]chat.ConversationSummary(nil), list.Conversations...),
		TotalUnread:   list.TotalUnread,
		Unread:        *unread,
		RefreshedAt:   time.Now(),
	}
	chat.SortConversations(view.Conversations)

	i.mu.Lock()
	i.last = view
	i.mu.Unlock()
	i.logger.Debug("conversation list refreshed", zap.Int("conversations", len(view.Conversations)))
	return view, nil
}

// Unread fetches only the unread totals and folds them into the cached view.
func (i *Inbox) Unread(ctx context.Context) (chat.UnreadCount, error) {
	unread, err := i.src.FetchUnreadCount(ctx)
	if err != nil {
		return i.Current().Unread, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	i.mu.Lock()
	i.last.Unread = *unread
	i.mu.Unlock()
	return *unread, nil
}

// Current returns the cached view without fetching.
func (i *Inbox) Current() View {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.last
}
