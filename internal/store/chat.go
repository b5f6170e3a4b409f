package store

import (
	"fmt"
	"time"
)

// ChatMsg is a locally cached chat message. The gateway's history is
// authoritative; this cache serves reads while disconnected.
type ChatMsg struct {
	ID         int64
	SessionKey string
	Role       string
	Content    string
	Timestamp  int64 // gateway timestamp, unix millis
	CreatedAt  time.Time
}

// ReplaceChatHistory swaps the cached history for one session with the
// freshly fetched authoritative list.
func (s *Store) ReplaceChatHistory(sessionKey string, msgs []*ChatMsg) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chat_messages WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("clear chat cache: %w", err)
	}
	for _, m := range msgs {
		if _, err := tx.Exec(`INSERT INTO chat_messages (session_key, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			sessionKey, m.Role, m.Content, m.Timestamp); err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListChatMessages(sessionKey string, limit int) ([]*ChatMsg, error) {
	q := `SELECT id, session_key, role, content, timestamp, created_at
		FROM chat_messages WHERE session_key = ? ORDER BY id ASC`
	args := []any{sessionKey}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ChatMsg
	for rows.Next() {
		m := &ChatMsg{}
		var created string
		if err := rows.Scan(&m.ID, &m.SessionKey, &m.Role, &m.Content, &m.Timestamp, &created); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
