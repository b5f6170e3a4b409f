package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/foyerhq/foyer/internal/identity"
)

func TestBackoffGrowthAndCap(t *testing.T) {
	bo := NewBackoff(backoffBase, backoffFactor, backoffMax)

	got := bo.Next()
	if got != backoffBase {
		t.Fatalf("first delay = %v, want %v", got, backoffBase)
	}
	prev := got
	capped := false
	for i := 0; i < 20; i++ {
		d := bo.Next()
		if d < prev {
			t.Errorf("attempt %d: delay %v regressed below %v", i, d, prev)
		}
		if d > backoffMax {
			t.Errorf("attempt %d: delay %v exceeds cap %v", i, d, backoffMax)
		}
		if d == backoffMax {
			capped = true
		} else {
			want := time.Duration(float64(prev) * backoffFactor)
			if diff := d - want; diff < -time.Microsecond || diff > time.Microsecond {
				t.Errorf("attempt %d: delay %v, want ~%v", i, d, want)
			}
		}
		prev = d
	}
	if !capped {
		t.Error("delay never reached the cap")
	}
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(backoffBase, backoffFactor, backoffMax)
	bo.Next()
	bo.Next()
	bo.Next()
	bo.Reset()
	if got := bo.Next(); got != backoffBase {
		t.Errorf("after reset: got %v, want %v", got, backoffBase)
	}
}

// reqFrame decodes an incoming request on the test server side.
type reqFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func writeFrame(ctx context.Context, t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Errorf("marshal frame: %v", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("server write: %v", err)
	}
}

func newTestServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept: %v", err)
			return
		}
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string, states chan State) *Client {
	t.Helper()
	id, err := identity.Ensure(&identity.MemStore{})
	if err != nil {
		t.Fatalf("ensure identity: %v", err)
	}
	c := New(&Client{
		URL:      url,
		Token:    "test-token",
		Scopes:   []string{"chat", "status"},
		Identity: id,
		Client:   ClientDescriptor{ID: "foyer-test", Version: "v0.0.0"},
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if states != nil {
		c.OnConnectionChange = func(s State) { states <- s }
	}
	return c
}

// waitForState drains the state channel until want arrives.
func waitForState(t *testing.T, states chan State, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

// readConnect reads frames until the connect request arrives.
func readConnect(ctx context.Context, t *testing.T, conn *websocket.Conn) (reqFrame, *ConnectParams, bool) {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return reqFrame{}, nil, false
		}
		var req reqFrame
		if err := json.Unmarshal(data, &req); err != nil || req.Type != TypeRequest {
			continue
		}
		if req.Method != MethodConnect {
			continue
		}
		var params ConnectParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Errorf("bad connect params: %v", err)
			return reqFrame{}, nil, false
		}
		return req, &params, true
	}
}

func TestConnectHandshake(t *testing.T) {
	gotParams := make(chan *ConnectParams, 1)
	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req, params, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		gotParams <- params
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})
		time.Sleep(200 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	states := make(chan State, 16)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	waitForState(t, states, StateConnected)

	params := <-gotParams
	if params.Device.ID != c.Identity.DeviceID {
		t.Errorf("device id = %q, want %q", params.Device.ID, c.Identity.DeviceID)
	}
	if params.Auth.Token != "test-token" {
		t.Errorf("auth token = %q", params.Auth.Token)
	}
	if params.Device.Nonce != "" {
		t.Errorf("unexpected nonce on unchallenged connect: %q", params.Device.Nonce)
	}

	// Verify the assertion signature against the reconstructed message.
	pub, err := base64.StdEncoding.DecodeString(params.Device.PublicKey)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(params.Device.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	msg := SignedMessage(params.Device.ID, params.Client.ID, params.Client.Version,
		params.Role, params.Scopes, params.Device.SignedAt, "test-token", "")
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(msg), sig) {
		t.Error("assertion signature does not verify")
	}
	if got := identity.DeriveDeviceID(pub); got != params.Device.ID {
		t.Errorf("device id not bound to public key: %q vs %q", got, params.Device.ID)
	}
}

func TestChallengeResend(t *testing.T) {
	const nonce = "n-fresh-1"
	secondNonce := make(chan string, 1)

	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		// Reject-by-silence the first attempt: push a challenge instead.
		_, params, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		if params.Device.Nonce != "" {
			t.Errorf("first connect already carries nonce %q", params.Device.Nonce)
		}
		payload, _ := json.Marshal(ChallengePayload{Nonce: nonce})
		writeFrame(ctx, t, conn, Event{Type: TypeEvent, Event: EventConnectChallenge, Payload: payload})

		req, params, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		secondNonce <- params.Device.Nonce
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})
		time.Sleep(200 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	states := make(chan State, 16)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	waitForState(t, states, StateConnected)
	if got := <-secondNonce; got != nonce {
		t.Errorf("re-signed connect nonce = %q, want %q", got, nonce)
	}
}

func TestCallCorrelation(t *testing.T) {
	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req, _, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})

		// Collect two requests, then answer them in reverse order.
		var reqs []reqFrame
		for len(reqs) < 2 {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var r reqFrame
			if json.Unmarshal(data, &r) == nil && r.Type == TypeRequest {
				reqs = append(reqs, r)
			}
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			payload, _ := json.Marshal(map[string]string{"method": reqs[i].Method})
			writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: reqs[i].ID, OK: true, Payload: payload})
		}
		time.Sleep(time.Second)
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	states := make(chan State, 16)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	waitForState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, method := range []string{"status.ping", "status.health"} {
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			payload, err := c.Call(ctx, method, nil)
			if err != nil {
				t.Errorf("call %s: %v", method, err)
				return
			}
			var got map[string]string
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Errorf("decode %s payload: %v", method, err)
				return
			}
			if got["method"] != method {
				t.Errorf("response for %s carried %q", method, got["method"])
			}
		}(method)
	}
	wg.Wait()
}

func TestCallRejected(t *testing.T) {
	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req, _, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var r reqFrame
		json.Unmarshal(data, &r)
		writeFrame(ctx, t, conn, Response{
			Type: TypeResponse, ID: r.ID, OK: false,
			Error: &ErrorDetail{Message: "no such method"},
		})
		time.Sleep(time.Second)
	})

	states := make(chan State, 16)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	waitForState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Call(ctx, "bogus.method", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want *RequestError", err)
	}
	if reqErr.Message != "no such method" {
		t.Errorf("message = %q", reqErr.Message)
	}
	// A single rejected request must not disturb the connection.
	if c.ConnectionState() != StateConnected {
		t.Errorf("state after rejection = %v, want connected", c.ConnectionState())
	}
}

func TestDisconnectDrainsPending(t *testing.T) {
	serverGotReq := make(chan struct{})
	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req, _, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})

		// Swallow the next request and drop the connection instead.
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		close(serverGotReq)
		conn.Close(websocket.StatusGoingAway, "test disconnect")
	})

	states := make(chan State, 16)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()
	waitForState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Call(ctx, "slow.op", nil)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
	select {
	case <-serverGotReq:
	default:
		t.Error("request never reached the server")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var mu sync.Mutex
	var connCount int

	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		req, _, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})

		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "test disconnect")
			return
		}
		time.Sleep(2 * time.Second)
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	states := make(chan State, 64)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	waitForState(t, states, StateConnected)
	waitForState(t, states, StateDisconnected)
	waitForState(t, states, StateConnected)

	mu.Lock()
	final := connCount
	mu.Unlock()
	if final < 2 {
		t.Errorf("expected at least 2 connections, got %d", final)
	}
}

func TestStateOrderOnImmediateDrop(t *testing.T) {
	// Server accepts the handshake and slams the connection shut. No matter
	// how the close races the handshake response, connected must never be
	// reported on a transport that already emitted disconnected.
	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		req, _, ok := readConnect(ctx, t, conn)
		if !ok {
			return
		}
		writeFrame(ctx, t, conn, Response{Type: TypeResponse, ID: req.ID, OK: true})
		conn.Close(websocket.StatusGoingAway, "gone")
	})

	states := make(chan State, 64)
	c := newTestClient(t, url, states)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Let the client churn through a few accept-then-drop cycles.
	var seq []State
	deadline := time.After(3 * time.Second)
collect:
	for {
		select {
		case s := <-states:
			seq = append(seq, s)
		case <-deadline:
			break collect
		}
	}
	c.Stop()

	if len(seq) < 4 {
		t.Fatalf("too few transitions to judge: %v", seq)
	}
	for i, s := range seq {
		if s == StateConnected && (i == 0 || seq[i-1] != StateConnecting) {
			t.Fatalf("connected without a preceding connecting at %d: %v", i, seq)
		}
	}
}

func TestSigningFailureClosesTransport(t *testing.T) {
	var mu sync.Mutex
	var connCount int
	url := newTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		mu.Lock()
		connCount++
		mu.Unlock()
		// Never answer; a client that cannot sign must hang up on its own.
		conn.Read(ctx)
	})

	states := make(chan State, 64)
	c := newTestClient(t, url, states)
	c.Identity.PrivateKey = base64.StdEncoding.EncodeToString([]byte("truncated"))
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	// A second connection proves the client closed the first and retried
	// instead of idling on a transport it can never authenticate.
	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := connCount
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("client wedged on unusable transport (connections: %d)", n)
		case <-time.After(50 * time.Millisecond):
		}
	}
	if c.ConnectionState() == StateConnected {
		t.Error("client claims connected without a handshake")
	}
}

func TestCallWhileDisconnected(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:0/ws", nil)
	_, err := c.Call(context.Background(), "status.ping", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}
