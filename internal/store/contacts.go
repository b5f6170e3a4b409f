package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Contact struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Notes     string
	CreatedAt time.Time
}

func (s *Store) CreateContact(c *Contact) error {
	_, err := s.db.Exec(`INSERT INTO contacts (id, name, email, phone, notes) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.Notes)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

func (s *Store) GetContact(id string) (*Contact, error) {
	row := s.db.QueryRow(`SELECT id, name, email, phone, notes, created_at FROM contacts WHERE id = ?`, id)
	c := &Contact{}
	var created string
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

func (s *Store) ListContacts() ([]*Contact, error) {
	rows, err := s.db.Query(`SELECT id, name, email, phone, notes, created_at FROM contacts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c := &Contact{}
		var created string
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &created); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.CreatedAt = parseTime(created)
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *Store) DeleteContact(id string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("contact %s not found", id)
	}
	return nil
}
