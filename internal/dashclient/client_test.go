package dashclient

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foyerhq/foyer/internal/server"
	"github.com/foyerhq/foyer/internal/store"
)

func newTestDaemon(t *testing.T, password string) *Client {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.NewServer(st, nil, password, log)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return New(strings.TrimPrefix(ts.URL, "http://"), "")
}

func TestTaskRoundTrip(t *testing.T) {
	c := newTestDaemon(t, "")

	created, err := c.CreateTask("water plants", "back porch", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != "open" {
		t.Fatalf("created = %+v", created)
	}

	tasks, err := c.ListTasks("open")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "water plants" {
		t.Fatalf("tasks = %+v", tasks)
	}

	done, err := c.CompleteTask(created.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "done" {
		t.Errorf("status = %q", done.Status)
	}

	if err := c.DeleteTask(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestLoginRequired(t *testing.T) {
	c := newTestDaemon(t, "hunter2")

	if _, err := c.ListTasks(""); err == nil {
		t.Fatal("list without login should fail")
	}
	if _, err := c.Login("wrong"); err == nil {
		t.Fatal("wrong password should fail")
	}
	token, err := c.Login("hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if _, err := c.ListTasks(""); err != nil {
		t.Fatalf("list after login: %v", err)
	}
}

func TestStatusAndErrors(t *testing.T) {
	c := newTestDaemon(t, "")

	st, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Gateway != "disconnected" {
		t.Errorf("gateway = %q", st.Gateway)
	}

	// Daemon has no gateway; chat send surfaces the API error message.
	if err := c.SendChat("hi"); err == nil || !strings.Contains(err.Error(), "gateway not configured") {
		t.Errorf("send err = %v", err)
	}
}

func TestReadSSE(t *testing.T) {
	feed := "data: {\"type\":\"chat.delta\",\"text\":\"he\"}\n\n" +
		"data: {\"type\":\"chat.delta\",\"text\":\"hello\"}\n\n" +
		"data: {\"type\":\"chat.complete\",\"text\":\"hello\"}\n\n"
	var got []StreamEvent
	err := readSSE(strings.NewReader(feed), func(ev StreamEvent) bool {
		got = append(got, ev)
		return ev.Type != "chat.complete"
	})
	if err != nil {
		t.Fatalf("readSSE: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[1].Text != "hello" || got[2].Type != "chat.complete" {
		t.Errorf("events = %+v", got)
	}
}
