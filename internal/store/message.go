package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

const upsertMessageSQL = `
	INSERT INTO messages (case_id, msg_id, sender_id, sender_name, sender_role, recipient_id, content, attachments, read_at, created_at, mirrored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(case_id, msg_id) DO UPDATE SET
		read_at = COALESCE(messages.read_at, excluded.read_at),
		mirrored_at = excluded.mirrored_at`

// UpsertMessage inserts a message or applies its read receipt (idempotent on
// case_id + msg_id). Content of an existing row never changes.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db, m)
}

// UpsertMessages writes a batch in one transaction.
func (db *DB) UpsertMessages(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if err := upsertMessage(tx, m); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.MsgID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func upsertMessage(e execer, m *Message) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	var readAt sql.NullInt64
	if m.ReadAt > 0 {
		readAt = sql.NullInt64{Int64: m.ReadAt, Valid: true}
	}
	_, err = e.Exec(upsertMessageSQL,
		m.CaseID, m.MsgID, m.SenderID, m.SenderName, m.SenderRole, m.RecipientID,
		m.Content, string(raw), readAt, m.CreatedAt, time.Now().UnixMilli())
	return err
}

// ListMessages returns messages for a case newest first, using keyset
// pagination on (created_at, msg_id). The zero Cursor starts from the newest
// message.
func (db *DB) ListMessages(caseID string, before Cursor, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		before.CreatedAt = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT case_id, msg_id, sender_id, sender_name, sender_role, recipient_id, content, attachments, read_at, created_at
		FROM messages
		WHERE case_id = ? AND (created_at, msg_id) < (?, ?)
		ORDER BY created_at DESC, msg_id DESC
		LIMIT ?`, caseID, before.CreatedAt, before.MsgID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			m      Message
			raw    string
			readAt sql.NullInt64
		)
		if err := rows.Scan(&m.CaseID, &m.MsgID, &m.SenderID, &m.SenderName, &m.SenderRole, &m.RecipientID, &m.Content, &raw, &readAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", m.MsgID, err)
		}
		if readAt.Valid {
			m.ReadAt = readAt.Int64
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns how many messages are mirrored for a case.
func (db *DB) MessageCount(caseID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE case_id = ?`, caseID).Scan(&n)
	return n, err
}
