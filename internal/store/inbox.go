package store

import (
	"fmt"
	"time"
)

type InboxItem struct {
	ID        string
	Source    string // unique origin, e.g. the dropped filename
	Subject   string
	Body      string
	Archived  bool
	CreatedAt time.Time
}

// InsertInboxItem adds an item; items with an already-seen source are
// ignored so re-scans do not duplicate.
func (s *Store) InsertInboxItem(item *InboxItem) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO inbox_items (id, source, subject, body) VALUES (?, ?, ?, ?)`,
		item.ID, item.Source, item.Subject, item.Body)
	if err != nil {
		return fmt.Errorf("insert inbox item: %w", err)
	}
	return nil
}

func (s *Store) ListInboxItems(includeArchived bool) ([]*InboxItem, error) {
	q := `SELECT id, source, subject, body, archived, created_at FROM inbox_items`
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var items []*InboxItem
	for rows.Next() {
		item := &InboxItem{}
		var created string
		var archived int
		if err := rows.Scan(&item.ID, &item.Source, &item.Subject, &item.Body, &archived, &created); err != nil {
			return nil, fmt.Errorf("scan inbox item: %w", err)
		}
		item.Archived = archived != 0
		item.CreatedAt = parseTime(created)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ArchiveInboxItem(id string) error {
	res, err := s.db.Exec(`UPDATE inbox_items SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive inbox item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("inbox item %s not found", id)
	}
	return nil
}
