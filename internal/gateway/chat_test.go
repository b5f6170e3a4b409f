package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func chatEvent(t *testing.T, sessionKey, state, text, errMsg string) json.RawMessage {
	t.Helper()
	ev := ChatEventPayload{SessionKey: sessionKey, State: state, ErrorMessage: errMsg}
	if text != "" {
		content, _ := json.Marshal(text)
		ev.Message = &WireMessage{Role: "assistant", Content: content}
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal chat event: %v", err)
	}
	return payload
}

func TestSessionIsolation(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:0/ws", nil)
	ctx := context.Background()
	c.SwitchSession(ctx, "dashboard")

	var streamed, errored int
	c.SetCallbacks(Callbacks{
		OnChatStream: func(string) { streamed++ },
		OnChatError:  func(string) { errored++ },
	})

	c.handleChatEvent(ctx, chatEvent(t, "task-42", ChatEventDelta, "stale text", ""))
	c.handleChatEvent(ctx, chatEvent(t, "task-42", ChatEventError, "", "boom"))

	if streamed != 0 || errored != 0 {
		t.Errorf("callbacks fired for foreign session: stream=%d error=%d", streamed, errored)
	}
}

func TestMonotonicStreaming(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:0/ws", nil)
	ctx := context.Background()
	c.SwitchSession(ctx, "dashboard")

	var got []string
	c.SetCallbacks(Callbacks{
		OnChatStream: func(text string) { got = append(got, text) },
	})

	for _, text := range []string{"12345", "123", "12345678", "1234567"} {
		c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventDelta, text, ""))
	}

	if len(got) != 2 {
		t.Fatalf("streamed %d times (%q), want 2", len(got), got)
	}
	if got[0] != "12345" || got[1] != "12345678" {
		t.Errorf("streamed %q, want [12345 12345678]", got)
	}
	if c.ChatPhase() != ChatStreaming {
		t.Errorf("chat phase = %v, want streaming", c.ChatPhase())
	}
}

func TestChatErrorEvent(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:0/ws", nil)
	ctx := context.Background()
	c.SwitchSession(ctx, "dashboard")

	var errMsg string
	c.SetCallbacks(Callbacks{
		OnChatError: func(msg string) { errMsg = msg },
	})

	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventDelta, "partial", ""))
	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventError, "", "model overloaded"))

	if errMsg != "model overloaded" {
		t.Errorf("error message = %q", errMsg)
	}
	if c.ChatPhase() != ChatIdle {
		t.Errorf("chat phase = %v, want idle", c.ChatPhase())
	}
	c.mu.Lock()
	stream := c.streamText
	c.mu.Unlock()
	if stream != "" {
		t.Errorf("stream text not cleared: %q", stream)
	}
}

func TestAbortIsSilent(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:0/ws", nil)
	ctx := context.Background()
	c.SwitchSession(ctx, "dashboard")

	var errored int
	c.SetCallbacks(Callbacks{
		OnChatError: func(string) { errored++ },
	})

	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventDelta, "half an ans", ""))
	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventAborted, "", ""))

	if errored != 0 {
		t.Errorf("aborted turn surfaced %d errors", errored)
	}
	if c.ChatPhase() != ChatIdle {
		t.Errorf("chat phase = %v, want idle", c.ChatPhase())
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:0/ws", nil)

	var errMsg string
	c.SetCallbacks(Callbacks{
		OnChatError: func(msg string) { errMsg = msg },
	})

	// Not started, so not connected: the error must surface synchronously
	// and nothing may hit the wire.
	c.SendMessage(context.Background(), "hello")
	if errMsg == "" {
		t.Fatal("OnChatError did not fire synchronously")
	}
}

// historyResponder answers chat.history requests with the given messages and
// forwards every chat.send it sees.
func historyHandler(t *testing.T, messages []WireMessage, sends chan<- ChatSendParams, historyCalls chan<- string) func(ctx context.Context, conn *websocket.Conn) {
	return func(ctx context.Context, conn *websocket.Conn) {
		req, _, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var r reqFrame
			if json.Unmarshal(data, &r) != nil || r.Type != TypeRequest {
				continue
			}
			switch r.Method {
			case MethodChatHistory:
				var p ChatHistoryParams
				json.Unmarshal(r.Params, &p)
				if historyCalls != nil {
					historyCalls <- p.SessionKey
				}
				payload, _ := json.Marshal(ChatHistoryPayload{Messages: messages})
				writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: r.ID, OK: true, Payload: payload})
			case MethodChatSend:
				var p ChatSendParams
				json.Unmarshal(r.Params, &p)
				if sends != nil {
					sends <- p
				}
				writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: r.ID, OK: true})
			default:
				writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: r.ID, OK: false, Error: &ErrorDetail{Message: "unknown method"}})
			}
		}
	}
}

func TestSwitchSessionFetchesHistory(t *testing.T) {
	content, _ := json.Marshal("earlier reply")
	historyCalls := make(chan string, 4)
	url := newTestServer(t, historyHandler(t, []WireMessage{
		{Role: "assistant", Content: content, Timestamp: 1700000000000},
	}, nil, historyCalls))

	states := make(chan State, 16)
	c := newTestClient(t, url, states)

	complete := make(chan []ChatMessage, 4)
	c.SetCallbacks(Callbacks{
		OnChatComplete: func(_ string, msgs []ChatMessage) { complete <- msgs },
	})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	waitForState(t, states, StateConnected)

	c.SwitchSession(context.Background(), "task-42")

	select {
	case key := <-historyCalls:
		if key != "task-42" {
			t.Errorf("history fetched for %q, want task-42", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no history request after switch")
	}
	select {
	case msgs := <-complete:
		if len(msgs) != 1 || msgs[0].Content != "earlier reply" {
			t.Errorf("history = %+v", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnChatComplete never fired")
	}
}

func TestSendAndFinalReconciliation(t *testing.T) {
	sends := make(chan ChatSendParams, 4)
	historyCalls := make(chan string, 4)
	content, _ := json.Marshal("Hi there")
	url := newTestServer(t, historyHandler(t, []WireMessage{
		{Role: "user", Content: mustJSON(t, "hello"), Timestamp: 1700000000000},
		{Role: "assistant", Content: content, Timestamp: 1700000001000},
	}, sends, historyCalls))

	states := make(chan State, 16)
	c := newTestClient(t, url, states)

	streams := make(chan string, 16)
	complete := make(chan string, 4)
	c.SetCallbacks(Callbacks{
		OnChatStream:   func(text string) { streams <- text },
		OnChatComplete: func(last string, _ []ChatMessage) { complete <- last },
	})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	waitForState(t, states, StateConnected)

	ctx := context.Background()
	c.mu.Lock()
	c.sessionKey = "dashboard" // set directly to skip the switch-time fetch
	c.mu.Unlock()

	c.SendMessage(ctx, "hello")
	select {
	case p := <-sends:
		if p.SessionKey != "dashboard" {
			t.Errorf("send session = %q", p.SessionKey)
		}
		if p.Deliver {
			t.Error("deliver flag must be false")
		}
		if p.IdempotencyKey == "" {
			t.Error("missing idempotency key")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("chat.send never reached the server")
	}

	// Stream two cumulative deltas, then finish the turn.
	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventDelta, "Hi ", ""))
	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventDelta, "Hi there", ""))
	c.handleChatEvent(ctx, chatEvent(t, "dashboard", ChatEventFinal, "", ""))

	if got := <-streams; got != "Hi " {
		t.Errorf("first stream = %q", got)
	}
	if got := <-streams; got != "Hi there" {
		t.Errorf("second stream = %q", got)
	}
	select {
	case last := <-complete:
		if last != "Hi there" {
			t.Errorf("lastStreamText = %q, want %q", last, "Hi there")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("final never completed")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
