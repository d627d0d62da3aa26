// Package sync keeps one conversation consistent across the persistent
// channel and the fallback transport.
//
// A Coordinator owns the message log, the typing set and the pagination
// cursor. All of that state is touched only from its loop goroutine; caller
// intents, channel events, RPC results and typing expiries are all queued
// onto the loop in arrival order. Callers observe the conversation through
// immutable Snapshots.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/clock"
	"github.com/matheus3301/casesync/internal/connection"
	"github.com/matheus3301/casesync/internal/messagelog"
	"github.com/matheus3301/casesync/internal/status"
	"github.com/matheus3301/casesync/internal/timer"
	"github.com/matheus3301/casesync/internal/transport"
	"github.com/matheus3301/casesync/internal/typing"
)

// DefaultPageSize is the number of messages requested per history page.
const DefaultPageSize = 50

// Channel is the persistent-channel surface the coordinator needs.
// *connection.Manager implements it.
type Channel interface {
	Bind(ctx context.Context, credential string) error
	Send(ctx context.Context, env channel.Envelope) error
	State() status.State
	Subscribe(caseID string) (<-chan connection.Event, func())
	Unbind() error
}

// Fallback is the request/response surface the coordinator needs.
type Fallback interface {
	FetchMessages(ctx context.Context, caseID string, q transport.MessageQuery) (*transport.MessagePage, error)
	SendMessage(ctx context.Context, req transport.SendRequest) (*chat.Message, error)
	MarkRead(ctx context.Context, ids []string) (*transport.MarkReadResult, error)
}

// Config binds a coordinator to one conversation.
type Config struct {
	CaseID      string
	LocalUserID string
	RecipientID string

	// Credential is passed to Channel.Bind. Ignored when SharedChannel is set.
	Credential string

	// SharedChannel leaves the channel's lifecycle to its owner: Start does
	// not bind it and Close does not unbind it.
	SharedChannel bool

	PageSize      int
	TypingTimeout time.Duration

	// TypingInterval throttles outbound "is typing" signals. Zero sends
	// every signal.
	TypingInterval time.Duration
}

// Coordinator is the public contract for one bound conversation.
type Coordinator struct {
	cfg     Config
	channel Channel
	rpc     Fallback
	clock   clock.Clock
	bus     *bus.Bus
	logger  *zap.Logger
	limiter *rate.Limiter

	work      chan func()
	done      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	closeOnce gosync.Once
	current   atomic.Pointer[Snapshot]

	// lifecycle orders Start against Close: either the loop is running
	// before done closes, or Start never launches it.
	lifecycle gosync.Mutex
	unsub     func()

	// Loop-owned.
	log     *messagelog.Log
	typing  *typing.Tracker
	hasMore bool
	cursor  string
	loading bool
	state   status.State
	lastErr error
	version uint64
}

// New creates a coordinator. A nil bus gets a private one; a nil clock uses
// real time.
func New(cfg Config, ch Channel, rpc Fallback, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Coordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if b == nil {
		b = bus.New()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		cfg:     cfg,
		channel: ch,
		rpc:     rpc,
		clock:   clk,
		bus:     b,
		logger:  logger.Named("sync").With(zap.String("case_id", cfg.CaseID)),
		work:    make(chan func(), 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     messagelog.New(),
		state:   status.Disconnected,
	}
	if cfg.TypingInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.TypingInterval), 1)
	}
	c.typing = typing.New(cfg.CaseID, cfg.TypingTimeout, timer.New[typing.Key](clk, c.dispatch))
	c.typing.OnExpire = func(typing.Key) { c.publish() }
	c.current.Store(&Snapshot{CaseID: cfg.CaseID, ConnectionState: status.Disconnected})
	return c
}

// Start subscribes to the channel, binds it unless shared, and loads the
// most recent page. A failed initial fetch is returned as ErrFetchFailed;
// the coordinator stays running and Refresh may be retried.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	select {
	case <-c.done:
		c.lifecycle.Unlock()
		return ErrClosed
	default:
	}
	if !c.started.CompareAndSwap(false, true) {
		c.lifecycle.Unlock()
		return errors.New("coordinator already started")
	}
	events, unsub := c.channel.Subscribe(c.cfg.CaseID)
	c.unsub = unsub
	c.state = c.channel.State()
	go c.run()
	go c.pump(events)
	c.lifecycle.Unlock()

	c.post(c.publish)

	if !c.cfg.SharedChannel {
		if err := c.channel.Bind(ctx, c.cfg.Credential); err != nil {
			c.logger.Warn("channel bind failed", zap.Error(err))
		}
	}
	return c.fetch(ctx, "", false)
}

// Close stops the loop, cancels typing timers, and unbinds the channel
// unless it is shared. RPC results that resolve after Close are dropped.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.lifecycle.Lock()
		close(c.done)
		started, unsub := c.started.Load(), c.unsub
		c.lifecycle.Unlock()

		if started {
			<-c.stopped
		} else {
			c.typing.Reset()
		}
		if unsub != nil {
			unsub()
		}
		if !c.cfg.SharedChannel {
			err = c.channel.Unbind()
		}
		c.current.Store(&Snapshot{CaseID: c.cfg.CaseID, ConnectionState: status.Disconnected})
		c.logger.Info("coordinator closed")
	})
	return err
}

// SendMessage sends content to the bound recipient. When the channel is
// connected the message goes over it and is appended when the server echo
// arrives. Otherwise the fallback RPC is used and the returned message is
// appended directly. A failed send returns ErrSendFailed and leaves no
// trace in the log.
func (c *Coordinator) SendMessage(ctx context.Context, content string, attachments []string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if c.cfg.RecipientID == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	if c.channel.State() == status.Connected {
		env, err := channel.NewEnvelope(channel.TypeSendMessage, channel.SendMessagePayload{
			CaseID:      c.cfg.CaseID,
			RecipientID: c.cfg.RecipientID,
			Content:     content,
			Attachments: attachments,
		})
		if err != nil {
			return err
		}
		err = c.channel.Send(ctx, env)
		if err == nil {
			c.logger.Debug("message sent over channel", zap.String("request_id", env.RequestID))
			return nil
		}
		if !errors.Is(err, connection.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		c.logger.Debug("channel closed before send, using fallback")
	}

	msg, err := c.rpc.SendMessage(ctx, transport.SendRequest{
		CaseID:      c.cfg.CaseID,
		RecipientID: c.cfg.RecipientID,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	err = c.call(context.WithoutCancel(ctx), func() {
		if c.append(*msg) {
			c.publish()
		}
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// LoadMore fetches the page older than the oldest loaded message. It is a
// no-op when the server reported no more history or a load is already in
// flight. A cancelled ctx releases the in-flight claim.
func (c *Coordinator) LoadMore(ctx context.Context) error {
	var cursor string
	skip := false
	err := c.call(ctx, func() {
		if !c.hasMore || c.loading {
			skip = true
			return
		}
		c.loading = true
		cursor = c.cursor
	})
	if err != nil || skip {
		return err
	}
	return c.fetch(ctx, cursor, true)
}

// Refresh re-fetches the most recent page and merges it. Used to retry a
// failed initial load and to catch up after the channel was down.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	return c.fetch(ctx, "", false)
}

// MarkAsRead marks ids read locally, then tells the server over the channel
// or the fallback. The local mark is not rolled back if the server call
// fails.
func (c *Coordinator) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := c.call(ctx, func() {
		if c.log.MarkRead(ids, c.clock.Now()) > 0 {
			c.publish()
		}
	})
	if err != nil {
		return err
	}

	if c.channel.State() == status.Connected {
		env, err := channel.NewEnvelope(channel.TypeMarkRead, channel.MarkReadPayload{MessageIDs: ids})
		if err != nil {
			return err
		}
		err = c.channel.Send(ctx, env)
		if err == nil {
			return nil
		}
		if !errors.Is(err, connection.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}
	if _, err := c.rpc.MarkRead(ctx, ids); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// SendTyping forwards a typing signal when the channel is connected and
// silently drops it otherwise. Typing is never queued or sent over the
// fallback.
func (c *Coordinator) SendTyping(ctx context.Context, isTyping bool) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if c.channel.State() != status.Connected {
		return nil
	}
	if isTyping && c.limiter != nil && !c.limiter.AllowN(c.clock.Now(), 1) {
		return nil
	}
	env, err := channel.NewEnvelope(channel.TypeTyping, channel.TypingPayload{
		CaseID:      c.cfg.CaseID,
		RecipientID: c.cfg.RecipientID,
		IsTyping:    isTyping,
	})
	if err != nil {
		return err
	}
	if err := c.channel.Send(ctx, env); err != nil && !errors.Is(err, connection.ErrNotConnected) {
		return err
	}
	return nil
}

// OnOfflineBatch merges messages replayed after a reconnect. Messages for
// other cases are ignored.
func (c *Coordinator) OnOfflineBatch(ctx context.Context, batch []chat.Message) error {
	return c.call(ctx, func() { c.applyOffline(batch) })
}

func (c *Coordinator) fetch(ctx context.Context, cursor string, older bool) error {
	page, err := c.rpc.FetchMessages(ctx, c.cfg.CaseID, transport.MessageQuery{
		OtherUserID: c.cfg.RecipientID,
		Limit:       c.cfg.PageSize,
		BeforeID:    cursor,
	})

	var result error
	callErr := c.call(context.WithoutCancel(ctx), func() {
		if older {
			c.loading = false
		}
		if err != nil && ctx.Err() != nil {
			result = ctx.Err()
			c.logger.Debug("history fetch abandoned", zap.String("before_id", cursor), zap.Error(err))
			return
		}
		if err != nil {
			c.lastErr = fmt.Errorf("%w: %w", ErrFetchFailed, err)
			result = c.lastErr
			c.logger.Warn("history fetch failed", zap.String("before_id", cursor), zap.Error(err))
			c.publish()
			return
		}
		c.lastErr = nil
		c.mergePage(page, older)
		c.publish()
	})
	if callErr != nil {
		return callErr
	}
	return result
}

func (c *Coordinator) mergePage(page *transport.MessagePage, older bool) {
	batch := make([]chat.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if m.CaseID == c.cfg.CaseID {
			batch = append(batch, c.withOwnership(m))
		}
	}
	inserted := c.log.Prepend(batch)
	c.logger.Debug("page merged",
		zap.Bool("older", older),
		zap.Int("received", len(page.Messages)),
		zap.Int("inserted", inserted))

	// A refresh of the newest page only seeds the cursor; it never rewinds
	// pagination that is already under way.
	if !older && c.cursor != "" {
		return
	}
	if oldest, ok := oldestOf(batch); ok {
		c.cursor = oldest
	}
	c.hasMore = page.HasMore
}

func oldestOf(batch []chat.Message) (string, bool) {
	if len(batch) == 0 {
		return "", false
	}
	oldest := &batch[0]
	for i := range batch[1:] {
		if chat.Compare(&batch[i+1], oldest) < 0 {
			oldest = &batch[i+1]
		}
	}
	return oldest.ID, true
}

func (c *Coordinator) withOwnership(m chat.Message) chat.Message {
	m.IsMine = c.cfg.LocalUserID != "" && m.Sender.ID == c.cfg.LocalUserID
	return m
}

func (c *Coordinator) append(m chat.Message) bool {
	if m.CaseID != c.cfg.CaseID {
		return false
	}
	return c.log.Append(c.withOwnership(m))
}

func (c *Coordinator) applyOffline(batch []chat.Message) {
	n := 0
	for _, m := range batch {
		if c.append(m) {
			n++
		}
	}
	c.logger.Debug("offline batch merged", zap.Int("received", len(batch)), zap.Int("inserted", n))
	if n > 0 {
		c.publish()
	}
}

func (c *Coordinator) handleEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.KindMessage:
		if c.append(ev.Message) {
			c.publish()
		}
	case connection.KindTyping:
		if ev.UserID == c.cfg.LocalUserID {
			return
		}
		if c.typing.OnSignal(ev.CaseID, ev.UserID, ev.IsTyping) {
			c.publish()
		}
	case connection.KindReadReceipt:
		at := c.clock.Now()
		if ev.ReadAt != nil {
			at = *ev.ReadAt
		}
		if c.log.MarkRead(ev.MessageIDs, at) > 0 {
			c.publish()
		}
	case connection.KindOfflineBatch:
		c.applyOffline(ev.Messages)
	case connection.KindStatusChanged:
		c.state = ev.State
		if ev.State == status.Connected {
			c.lastErr = nil
		}
		c.publish()
	case connection.KindError:
		c.lastErr = ev.Err
		c.publish()
	}
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-c.done:
			c.typing.Reset()
			return
		}
	}
}

func (c *Coordinator) pump(events <-chan connection.Event) {
	for ev := range events {
		if !c.post(func() { c.handleEvent(ev) }) {
			return
		}
	}
}

// post queues fn onto the loop. Returns false once the coordinator closed.
func (c *Coordinator) post(fn func()) bool {
	select {
	case c.work <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) dispatch(fn func()) { c.post(fn) }

// call runs fn on the loop and waits for it to finish. ctx only bounds the
// wait for a queue slot: once fn is queued, call waits for it to run so the
// caller always sees its effects.
func (c *Coordinator) call(ctx context.Context, fn func()) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	select {
	case c.work <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (c *Coordinator) checkRunning() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !c.started.Load() {
		return ErrNotStarted
	}
	return nil
}
