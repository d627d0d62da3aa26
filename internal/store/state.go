package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetState records a sync checkpoint value.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetState returns a checkpoint value; ok is false when the key is unset.
func (db *DB) GetState(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
