package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// MarkSynced records that a message reached its sink. Recording the same
// message twice is a no-op.
func (s *Store) MarkSynced(m SyncedMessage) error {
	syncedAt := m.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO synced_messages (message_id, session_id, user_id, publisher, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		m.MessageID, m.SessionID, m.UserID, m.Publisher, syncedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("marking message %s synced: %w", m.MessageID, err)
	}
	return nil
}

// GetSynced returns the sync record for messageID, or ErrNotFound.
func (s *Store) GetSynced(messageID string) (SyncedMessage, error) {
	var m SyncedMessage
	var syncedAt string
	err := s.db.QueryRow(`
		SELECT message_id, session_id, user_id, publisher, synced_at
		FROM synced_messages WHERE message_id = ?`, messageID,
	).Scan(&m.MessageID, &m.SessionID, &m.UserID, &m.Publisher, &syncedAt)
	if err == sql.ErrNoRows {
		return SyncedMessage{}, ErrNotFound
	}
	if err != nil {
		return SyncedMessage{}, err
	}
	t, err := time.Parse(time.RFC3339, syncedAt)
	if err != nil {
		return SyncedMessage{}, fmt.Errorf("parsing synced_at: %w", err)
	}
	m.SyncedAt = t
	return m, nil
}

// SyncedCount returns how many messages of a session have been synced.
func (s *Store) SyncedCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM synced_messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
