package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/foyerhq/foyer/internal/store"
)

type taskPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Status      string     `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func taskToPayload(t *store.Task) taskPayload {
	return taskPayload{
		ID: t.ID, Title: t.Title, Notes: t.Notes, Status: t.Status,
		DueAt: t.DueAt, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt, CompletedAt: t.CompletedAt,
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	tasks, err := s.Store.ListTasks(status, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]taskPayload, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToPayload(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string     `json:"title"`
		Notes string     `json:"notes"`
		DueAt *time.Time `json:"due_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	task := &store.Task{ID: uuid.New().String(), Title: req.Title, Notes: req.Notes, DueAt: req.DueAt}
	if err := s.Store.CreateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	created, err := s.Store.GetTask(task.ID)
	if err != nil || created == nil {
		writeError(w, http.StatusInternalServerError, "task not found after create")
		return
	}
	writeJSON(w, http.StatusCreated, taskToPayload(created))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Store.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskToPayload(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Store.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	var req struct {
		Title  *string    `json:"title"`
		Notes  *string    `json:"notes"`
		Status *string    `json:"status"`
		DueAt  *time.Time `json:"due_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Notes != nil {
		task.Notes = *req.Notes
	}
	if req.Status != nil {
		if *req.Status != "open" && *req.Status != "done" {
			writeError(w, http.StatusBadRequest, "status must be open or done")
			return
		}
		task.Status = *req.Status
	}
	if req.DueAt != nil {
		task.DueAt = req.DueAt
	}
	if err := s.Store.UpdateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated, _ := s.Store.GetTask(task.ID)
	writeJSON(w, http.StatusOK, taskToPayload(updated))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteTask(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListInbox(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("all") == "true"
	items, err := s.Store.ListInboxItems(includeArchived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type inboxPayload struct {
		ID        string    `json:"id"`
		Source    string    `json:"source"`
		Subject   string    `json:"subject"`
		Body      string    `json:"body"`
		Archived  bool      `json:"archived"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]inboxPayload, 0, len(items))
	for _, it := range items {
		out = append(out, inboxPayload{
			ID: it.ID, Source: it.Source, Subject: it.Subject,
			Body: it.Body, Archived: it.Archived, CreatedAt: it.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArchiveInbox(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ArchiveInboxItem(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": true})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.Store.ListContacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type contactPayload struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
		Notes string `json:"notes,omitempty"`
	}
	out := make([]contactPayload, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactPayload{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone, Notes: c.Notes})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	c := &store.Contact{ID: uuid.New().String(), Name: req.Name, Email: req.Email, Phone: req.Phone, Notes: req.Notes}
	if err := s.Store.CreateContact(c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID})
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteContact(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
