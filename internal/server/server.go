package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/store"
)

// Server is the dashboard HTTP API consumed by the web UI and the CLI. It
// owns the bridge between the gateway client's chat callbacks and SSE
// subscribers.
type Server struct {
	Store   *store.Store
	Gateway *gateway.Client
	Log     *slog.Logger

	mux       *http.ServeMux
	jwtSecret []byte
	password  string // empty disables API auth
	limiter   *ipLimiter
	hub       *sseHub
}

func NewServer(st *store.Store, gw *gateway.Client, password string, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	secret, err := generateOrLoadSecret(st)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Store:     st,
		Gateway:   gw,
		Log:       log,
		mux:       http.NewServeMux(),
		jwtSecret: secret,
		password:  password,
		limiter:   newIPLimiter(20, 40),
		hub:       newSSEHub(),
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)

	s.mux.HandleFunc("GET /api/inbox", s.handleListInbox)
	s.mux.HandleFunc("POST /api/inbox/{id}/archive", s.handleArchiveInbox)

	s.mux.HandleFunc("GET /api/contacts", s.handleListContacts)
	s.mux.HandleFunc("POST /api/contacts", s.handleCreateContact)
	s.mux.HandleFunc("DELETE /api/contacts/{id}", s.handleDeleteContact)

	s.mux.HandleFunc("POST /api/chat/session", s.handleChatSession)
	s.mux.HandleFunc("POST /api/chat/send", s.handleChatSend)
	s.mux.HandleFunc("GET /api/chat/history", s.handleChatHistory)
	s.mux.HandleFunc("GET /api/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("POST /api/gateway/call", s.handleGatewayCall)

	s.bindGateway()
	return s, nil
}

// bindGateway registers this server as the gateway client's live chat
// consumer, fanning events out to SSE subscribers and keeping the local
// chat cache fresh.
func (s *Server) bindGateway() {
	if s.Gateway == nil {
		return
	}
	s.Gateway.OnConnectionChange = func(state gateway.State) {
		s.hub.broadcast(sseEvent{Type: "connection", State: state.String()})
	}
	s.Gateway.SetCallbacks(gateway.Callbacks{
		OnChatStream: func(text string) {
			s.hub.broadcast(sseEvent{Type: "chat.delta", SessionKey: s.Gateway.ActiveSession(), Text: text})
		},
		OnChatComplete: func(last string, msgs []gateway.ChatMessage) {
			key := s.Gateway.ActiveSession()
			cached := make([]*store.ChatMsg, 0, len(msgs))
			for _, m := range msgs {
				cached = append(cached, &store.ChatMsg{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
			}
			if err := s.Store.ReplaceChatHistory(key, cached); err != nil {
				s.Log.Warn("cache chat history", "session", key, "err", err)
			}
			s.hub.broadcast(sseEvent{Type: "chat.complete", SessionKey: key, Text: last, Messages: msgs})
		},
		OnChatError: func(msg string) {
			s.hub.broadcast(sseEvent{Type: "chat.error", SessionKey: s.Gateway.ActiveSession(), Error: msg})
		},
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(remoteIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if s.requiresAuth(r) {
		if err := s.checkAuth(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) requiresAuth(r *http.Request) bool {
	if s.password == "" {
		return false
	}
	switch r.URL.Path {
	case "/api/health", "/api/auth/login":
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tasks, _ := s.Store.ListTasks("open", 0)
	inbox, _ := s.Store.ListInboxItems(false)
	state := "disconnected"
	session := ""
	if s.Gateway != nil {
		state = s.Gateway.ConnectionState().String()
		session = s.Gateway.ActiveSession()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gateway":       state,
		"session":       session,
		"open_tasks":    len(tasks),
		"inbox_pending": len(inbox),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// gatewayContext detaches gateway operations from the request lifetime;
// history fetches triggered by a session switch outlive the HTTP response.
func gatewayContext() context.Context {
	return context.Background()
}
