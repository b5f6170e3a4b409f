// Package dashclient is the HTTP client the CLI uses to talk to a running
// foyerd daemon.
package dashclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for a daemon at addr, e.g. "127.0.0.1:7773".
// token is the session JWT from Login; empty when auth is disabled.
func New(addr, token string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Status      string     `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type InboxItem struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type Status struct {
	Gateway      string `json:"gateway"`
	Session      string `json:"session"`
	OpenTasks    int    `json:"open_tasks"`
	InboxPending int    `json:"inbox_pending"`
}

func (c *Client) Login(password string) (string, error) {
	resp, err := c.post("/api/auth/login", map[string]string{"password": password})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	c.token = out.Token
	return out.Token, nil
}

func (c *Client) Status() (*Status, error) {
	resp, err := c.get("/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func (c *Client) ListTasks(status string) ([]Task, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	resp, err := c.get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var tasks []Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return tasks, nil
}

func (c *Client) CreateTask(title, notes string, dueAt *time.Time) (*Task, error) {
	resp, err := c.post("/api/tasks", map[string]any{"title": title, "notes": notes, "due_at": dueAt})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated); err != nil {
		return nil, err
	}
	var t Task
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &t, nil
}

func (c *Client) CompleteTask(id string) (*Task, error) {
	resp, err := c.patch("/api/tasks/"+id, map[string]string{"status": "done"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var t Task
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &t, nil
}

func (c *Client) DeleteTask(id string) error {
	resp, err := c.delete("/api/tasks/" + id)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) ListInbox(includeArchived bool) ([]InboxItem, error) {
	path := "/api/inbox"
	if includeArchived {
		path += "?all=true"
	}
	resp, err := c.get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var items []InboxItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return items, nil
}

func (c *Client) ArchiveInbox(id string) error {
	resp, err := c.post("/api/inbox/"+id+"/archive", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) ListContacts() ([]Contact, error) {
	resp, err := c.get("/api/contacts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var contacts []Contact
	if err := json.NewDecoder(resp.Body).Decode(&contacts); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return contacts, nil
}

func (c *Client) SwitchSession(key string) error {
	resp, err := c.post("/api/chat/session", map[string]string{"sessionKey": key})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) SendChat(text string) error {
	resp, err := c.post("/api/chat/send", map[string]string{"text": text})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusAccepted)
}

func (c *Client) ChatHistory(session string) ([]ChatMessage, error) {
	path := "/api/chat/history"
	if session != "" {
		path += "?session=" + url.QueryEscape(session)
	}
	resp, err := c.get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Messages, nil
}

// StreamEvent is one decoded server-sent event from /api/chat/stream.
type StreamEvent struct {
	Type       string        `json:"type"`
	State      string        `json:"state,omitempty"`
	SessionKey string        `json:"sessionKey,omitempty"`
	Text       string        `json:"text,omitempty"`
	Messages   []ChatMessage `json:"messages,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Stream opens the SSE feed and invokes fn for every event until the
// connection drops or fn returns false.
func (c *Client) Stream(fn func(StreamEvent) bool) error {
	path := "/api/chat/stream"
	if c.token != "" {
		path += "?token=" + url.QueryEscape(c.token)
	}
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	// SSE is long-lived; skip the client-wide timeout.
	stream := &http.Client{}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return readSSE(resp.Body, fn)
}

func readSSE(r io.Reader, fn func(StreamEvent) bool) error {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 1024)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				i := bytes.Index(buf, []byte("\n\n"))
				if i < 0 {
					break
				}
				chunk := buf[:i]
				buf = buf[i+2:]
				data, ok := bytes.CutPrefix(bytes.TrimSpace(chunk), []byte("data: "))
				if !ok {
					continue
				}
				var ev StreamEvent
				if json.Unmarshal(data, &ev) != nil {
					continue
				}
				if !fn(ev) {
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// HTTP helpers

func (c *Client) get(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *Client) post(path string, body any) (*http.Response, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *Client) patch(path string, body any) (*http.Response, error) {
	return c.do(http.MethodPatch, path, body)
}

func (c *Client) delete(path string) (*http.Response, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, expected int) error {
	if resp.StatusCode == expected {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}
