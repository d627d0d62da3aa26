// Package mirror copies every conversation snapshot into the local SQLite
// transcript so the CLI can inspect history while the daemon is offline.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/store"
	"github.com/matheus3301/casesync/internal/sync"
)

// Mirror ingests conversation snapshots idempotently. Only messages that are
// new, or newly read, since the previous snapshot are written.
type Mirror struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu   gosync.Mutex
	seen map[string]map[string]bool // case id -> msg id -> read
}

// New creates a mirror.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		db:     db,
		bus:    b,
		logger: logger.Named("mirror"),
		seen:   make(map[string]map[string]bool),
	}
}

// Start subscribes to snapshot events for every case.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ch, unsub := m.bus.Subscribe(bus.KindSnapshot, "", 256)

	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				snap, ok := evt.Payload.(sync.Snapshot)
				if !ok {
					continue
				}
				if err := m.Ingest(snap); err != nil {
					m.logger.Error("failed to mirror snapshot", zap.Error(err),
						zap.String("case_id", snap.CaseID), zap.Uint64("version", snap.Version))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the mirror and waits for the ingest loop to exit.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Ingest writes the changed part of a snapshot in one transaction and
// records the snapshot version as a checkpoint.
func (m *Mirror) Ingest(snap sync.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := m.seen[snap.CaseID]
	if seen == nil {
		seen = make(map[string]bool)
		m.seen[snap.CaseID] = seen
	}

	var batch []*store.Message
	for i := range snap.Messages {
		msg := &snap.Messages[i]
		read, ok := seen[msg.ID]
		if ok && read == msg.Read() {
			continue
		}
		batch = append(batch, FromChat(msg))
	}
	if len(batch) == 0 {
		return nil
	}

	if err := m.db.UpsertMessages(batch); err != nil {
		return fmt.Errorf("ingest snapshot: %w", err)
	}
	for _, sm := range batch {
		seen[sm.MsgID] = sm.ReadAt > 0
	}
	if err := m.db.SetState(checkpointKey(snap.CaseID), strconv.FormatUint(snap.Version, 10)); err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	m.logger.Debug("snapshot mirrored",
		zap.String("case_id", snap.CaseID),
		zap.Uint64("version", snap.Version),
		zap.Int("messages", len(batch)))
	return nil
}

// Checkpoint returns the last mirrored snapshot version for a case.
func (m *Mirror) Checkpoint(caseID string) (uint64, error) {
	v, ok, err := m.db.GetState(checkpointKey(caseID))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func checkpointKey(caseID string) string {
	return "snapshot_version:" + caseID
}

// FromChat converts a domain message to its mirrored row.
func FromChat(msg *chat.Message) *store.Message {
	sm := &store.Message{
		CaseID:      msg.CaseID,
		MsgID:       msg.ID,
		SenderID:    msg.Sender.ID,
		SenderName:  msg.Sender.DisplayName,
		SenderRole:  string(msg.Sender.Role),
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		CreatedAt:   msg.CreatedAt.UnixMilli(),
	}
	if msg.ReadAt != nil {
		sm.ReadAt = msg.ReadAt.UnixMilli()
	}
	return sm
}
