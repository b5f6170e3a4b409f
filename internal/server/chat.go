package server

import (
	"encoding/json"
	"net/http"

	"github.com/foyerhq/foyer/internal/gateway"
)

func (s *Server) handleChatSession(w http.ResponseWriter, r *http.Request) {
	if s.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var req struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionKey == "" {
		writeError(w, http.StatusBadRequest, "sessionKey is required")
		return
	}
	s.Gateway.SwitchSession(gatewayContext(), req.SessionKey)
	writeJSON(w, http.StatusOK, map[string]string{"session": req.SessionKey})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if s.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if s.Gateway.ActiveSession() == "" {
		writeError(w, http.StatusConflict, "no active chat session")
		return
	}
	// Delivery outcome arrives over the SSE stream; accept and return.
	s.Gateway.SendMessage(gatewayContext(), req.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sending"})
}

// handleChatHistory serves the locally cached history. The cache is refreshed
// by the gateway client on session switches and stream completion, so it
// answers even while the gateway is down.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("session")
	if key == "" && s.Gateway != nil {
		key = s.Gateway.ActiveSession()
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}
	msgs, err := s.Store.ListChatMessages(key, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gateway.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gateway.ChatMessage{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": key, "messages": out})
}

// handleGatewayCall is the raw RPC escape hatch for methods the dashboard
// has no dedicated endpoint for.
func (s *Server) handleGatewayCall(w http.ResponseWriter, r *http.Request) {
	if s.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required")
		return
	}
	payload, err := s.Gateway.Call(r.Context(), req.Method, req.Params)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(payload) == 0 {
		w.Write([]byte("null"))
		return
	}
	w.Write(payload)
}
