package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ChatState tracks the in-flight turn on the active session.
type ChatState int

const (
	ChatIdle ChatState = iota
	ChatSending
	ChatStreaming
)

// historyLimit bounds chat.history fetches.
const historyLimit = 200

// Callbacks are the live chat consumer. Exactly one consumer's callbacks
// are active at a time; the UI swaps them together with the session when it
// moves between chat panels, all over the one shared connection.
type Callbacks struct {
	// OnChatStream receives the complete-so-far partial text, not a diff.
	OnChatStream func(text string)
	// OnChatComplete receives the authoritative history for the active
	// session plus the text of the turn that just finished streaming, so
	// the UI can promote it without a flash of emptiness.
	OnChatComplete func(lastStreamText string, messages []ChatMessage)
	OnChatError    func(message string)
}

// SetCallbacks replaces the live consumer without disturbing the connection.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.callbacks = cb
	c.mu.Unlock()
}

// ActiveSession returns the current session key.
func (c *Client) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// ChatPhase returns the chat state of the in-flight turn.
func (c *Client) ChatPhase() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatState
}

// SwitchSession makes key the active chat session. Transient stream state
// is discarded and, when connected, history for the new key is refetched.
// Push events for other session keys are dropped, never buffered, so a
// switch cannot catch stale events from the previous session.
func (c *Client) SwitchSession(ctx context.Context, key string) {
	c.mu.Lock()
	c.sessionKey = key
	c.streamText = ""
	c.chatState = ChatIdle
	c.runID = ""
	connected := c.state == StateConnected
	c.mu.Unlock()
	if connected {
		go c.refreshHistory(ctx, "")
	}
}

// SendMessage sends text on the active session. When the connection is down
// the failure surfaces synchronously through OnChatError and nothing is
// written to the wire.
func (c *Client) SendMessage(ctx context.Context, text string) {
	c.mu.Lock()
	if c.state != StateConnected {
		cb := c.callbacks.OnChatError
		c.mu.Unlock()
		if cb != nil {
			cb("not connected to gateway")
		}
		return
	}
	runID := uuid.New().String()
	c.runID = runID
	c.chatState = ChatSending
	c.streamText = ""
	key := c.sessionKey
	c.mu.Unlock()

	go func() {
		_, err := c.Call(ctx, MethodChatSend, ChatSendParams{
			SessionKey:     key,
			Message:        text,
			Deliver:        false,
			IdempotencyKey: runID,
		})
		if err == nil {
			return
		}
		c.mu.Lock()
		if c.runID == runID {
			c.chatState = ChatIdle
			c.runID = ""
		}
		cb := c.callbacks.OnChatError
		c.mu.Unlock()
		if cb != nil {
			cb(err.Error())
		}
	}()
}

// refreshHistory fetches authoritative history for the active session and
// hands it to the consumer together with lastStreamText.
func (c *Client) refreshHistory(ctx context.Context, lastStreamText string) {
	c.mu.Lock()
	key := c.sessionKey
	c.mu.Unlock()
	if key == "" {
		return
	}

	payload, err := c.Call(ctx, MethodChatHistory, ChatHistoryParams{SessionKey: key, Limit: historyLimit})
	if err != nil {
		c.Log.Warn("chat history fetch failed", "session", key, "err", err)
		return
	}
	var hist ChatHistoryPayload
	if err := json.Unmarshal(payload, &hist); err != nil {
		c.Log.Warn("bad chat.history payload", "err", err)
		return
	}

	msgs := make([]ChatMessage, 0, len(hist.Messages))
	for i := range hist.Messages {
		m := &hist.Messages[i]
		msgs = append(msgs, ChatMessage{Role: m.Role, Content: m.Text(), Timestamp: m.Timestamp})
	}

	c.mu.Lock()
	stale := c.sessionKey != key
	cb := c.callbacks.OnChatComplete
	c.mu.Unlock()
	if stale || cb == nil {
		return
	}
	cb(lastStreamText, msgs)
}

// handleChatEvent processes a chat push event, filtered to the active
// session key.
func (c *Client) handleChatEvent(ctx context.Context, payload json.RawMessage) {
	var ev ChatEventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.Log.Warn("bad chat event payload", "err", err)
		return
	}

	c.mu.Lock()
	if ev.SessionKey != c.sessionKey {
		c.mu.Unlock()
		return
	}

	switch ev.State {
	case ChatEventDelta:
		if ev.Message == nil {
			c.mu.Unlock()
			return
		}
		text := ev.Message.Text()
		// Deltas carry the cumulative text so far. A shorter delta is a
		// reordered stale one; accepting it would regress displayed text.
		if len(text) < len(c.streamText) {
			c.mu.Unlock()
			return
		}
		c.streamText = text
		c.chatState = ChatStreaming
		cb := c.callbacks.OnChatStream
		c.mu.Unlock()
		if cb != nil {
			cb(text)
		}

	case ChatEventFinal:
		last := c.streamText
		c.streamText = ""
		c.chatState = ChatIdle
		c.runID = ""
		c.mu.Unlock()
		go c.refreshHistory(ctx, last)

	case ChatEventError:
		c.streamText = ""
		c.chatState = ChatIdle
		c.runID = ""
		msg := ev.ErrorMessage
		cb := c.callbacks.OnChatError
		c.mu.Unlock()
		if msg == "" {
			msg = "chat request failed"
		}
		if cb != nil {
			cb(msg)
		}

	case ChatEventAborted:
		// Silent cancellation: reset state, surface nothing.
		c.streamText = ""
		c.chatState = ChatIdle
		c.runID = ""
		c.mu.Unlock()

	default:
		c.mu.Unlock()
		c.Log.Debug("unknown chat event state", "state", ev.State)
	}
}
