package store

import (
	"database/sql"
	"fmt"
	"time"
)

const timeFmt = "2006-01-02T15:04:05Z"

type Task struct {
	ID          string
	Title       string
	Notes       string
	Status      string // open | done
	DueAt       *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (s *Store) CreateTask(t *Task) error {
	if t.Status == "" {
		t.Status = "open"
	}
	var due *string
	if t.DueAt != nil {
		v := t.DueAt.UTC().Format(timeFmt)
		due = &v
	}
	_, err := s.db.Exec(`INSERT INTO tasks (id, title, notes, status, due_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Notes, t.Status, due)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT id, title, notes, status, due_at, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(status string, limit int) ([]*Task, error) {
	q := `SELECT id, title, notes, status, due_at, created_at, updated_at, completed_at FROM tasks`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTask(t *Task) error {
	var due *string
	if t.DueAt != nil {
		v := t.DueAt.UTC().Format(timeFmt)
		due = &v
	}
	res, err := s.db.Exec(`UPDATE tasks SET title = ?, notes = ?, status = ?, due_at = ?,
		updated_at = CURRENT_TIMESTAMP,
		completed_at = CASE WHEN ? = 'done' AND completed_at IS NULL THEN CURRENT_TIMESTAMP
			WHEN ? != 'done' THEN NULL ELSE completed_at END
		WHERE id = ?`,
		t.Title, t.Notes, t.Status, due, t.Status, t.Status, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", t.ID)
	}
	return nil
}

func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var due, completed *string
	var created, updated string
	if err := row.Scan(&t.ID, &t.Title, &t.Notes, &t.Status, &due, &created, &updated, &completed); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	t.DueAt = parseTimePtr(due)
	t.CompletedAt = parseTimePtr(completed)
	return t, nil
}

func parseTime(v string) time.Time {
	for _, layout := range []string{timeFmt, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func parseTimePtr(v *string) *time.Time {
	if v == nil {
		return nil
	}
	ts := parseTime(*v)
	if ts.IsZero() {
		return nil
	}
	return &ts
}
