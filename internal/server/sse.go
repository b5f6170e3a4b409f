package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/foyerhq/foyer/internal/gateway"
)

// sseEvent is one server-sent event pushed to dashboard subscribers.
type sseEvent struct {
	Type       string                `json:"type"`
	State      string                `json:"state,omitempty"`
	SessionKey string                `json:"sessionKey,omitempty"`
	Text       string                `json:"text,omitempty"`
	Messages   []gateway.ChatMessage `json:"messages,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// sseHub fans gateway events out to connected dashboards. Slow subscribers
// drop events rather than block the gateway read loop.
type sseHub struct {
	mu   sync.Mutex
	subs map[chan sseEvent]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{subs: make(map[chan sseEvent]struct{})}
}

func (h *sseHub) subscribe() chan sseEvent {
	ch := make(chan sseEvent, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *sseHub) unsubscribe(ch chan sseEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *sseHub) broadcast(ev sseEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
