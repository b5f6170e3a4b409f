package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/foyerhq/foyer/internal/identity"
)

// Sentinel errors surfaced to callers of Call and SendMessage.
var (
	ErrNotConnected     = errors.New("gateway: not connected")
	ErrConnectionClosed = errors.New("gateway: connection closed")
)

const (
	writeTimeout      = 10 * time.Second
	readLimit         = 512 * 1024
	backoffBase       = 800 * time.Millisecond
	backoffFactor     = 1.7
	backoffMax        = 15 * time.Second
	handshakeDebounce = 150 * time.Millisecond
	handshakeTimeout  = 15 * time.Second
)

// State of the physical gateway connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// RequestError is a server-side rejection of one request (ok:false). It
// affects only the caller that issued the request.
type RequestError struct {
	Method  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Method, e.Message)
}

// Client is the persistent, authenticated connection to the gateway agent.
// One Client multiplexes every dashboard request and all logical chat
// sessions over a single WebSocket, reconnecting forever with capped
// backoff — there is no fallback data source for live chat.
type Client struct {
	URL      string // e.g. "wss://gateway.example.com/ws"
	Token    string // bearer token, if the deployment uses tokens
	Password string // shared password, if the deployment uses passwords
	Role     string
	Scopes   []string
	Caps     []string

	Client    ClientDescriptor
	UserAgent string
	Locale    string

	// Identity is the device credential. When nil it is resolved from
	// IdentityStore on Start.
	Identity      *identity.Identity
	IdentityStore identity.Store

	// OnConnectionChange is invoked on every connection state transition.
	OnConnectionChange func(State)

	Log *slog.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending map[string]chan callResult
	cancel  context.CancelFunc
	backoff *Backoff

	// stateMu serializes state transitions together with their
	// OnConnectionChange notifications, so a late handshake success cannot
	// report connected after the reconnect loop reported the drop.
	stateMu sync.Mutex

	// handshake sub-state, reset per transport
	hs          hsState
	hsNonce     string
	hsConnectID string

	// chat session engine (chat.go)
	sessionKey string
	streamText string
	chatState  ChatState
	runID      string
	callbacks  Callbacks
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// New applies defaults; the caller fills exported fields first.
func New(c *Client) *Client {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Role == "" {
		c.Role = "operator"
	}
	if c.Client.ID == "" {
		c.Client.ID = "foyer"
	}
	if c.Client.Platform == "" {
		c.Client.Platform = "daemon"
	}
	if c.Client.Mode == "" {
		c.Client.Mode = "dashboard"
	}
	if c.Client.InstanceID == "" {
		c.Client.InstanceID = uuid.New().String()
	}
	c.pending = make(map[string]chan callResult)
	c.backoff = NewBackoff(backoffBase, backoffFactor, backoffMax)
	return c
}

// Start resolves the device identity and begins the connect/reconnect loop.
// Safe to call again after Stop.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.Identity == nil {
		if c.IdentityStore == nil {
			return errors.New("gateway: no identity or identity store configured")
		}
		id, err := identity.Ensure(c.IdentityStore)
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
		c.Identity = id
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
	return nil
}

// Stop closes the connection and halts reconnection until Start is called
// again. Every in-flight request is rejected.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client stopped")
	}
	c.failPending(ErrConnectionClosed)
	c.setState(StateDisconnected)
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) run(ctx context.Context) {
	for {
		c.setState(StateConnecting)
		err := c.connectAndServe(ctx)
		c.failPending(ErrConnectionClosed)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		delay := c.backoff.Next()
		c.mu.Unlock()
		c.Log.Info("gateway disconnected", "err", err, "reconnect_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.hs = hsIdle
	c.hsNonce = ""
	c.hsConnectID = ""
	c.mu.Unlock()
	defer func() {
		conn.CloseNow()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	// Short debounce before the first connect attempt so a server that
	// pushes a challenge immediately gets to fold it into one signed send.
	timer := time.AfterFunc(handshakeDebounce, func() {
		if err := c.sendConnect(ctx); err != nil {
			c.Log.Warn("connect attempt failed", "err", err)
		}
	})
	defer timer.Stop()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.Log.Warn("bad frame", "err", err)
		return
	}
	switch env.Type {
	case TypeResponse:
		var res Response
		if err := json.Unmarshal(data, &res); err != nil {
			c.Log.Warn("bad response frame", "err", err)
			return
		}
		c.resolve(res)
	case TypeEvent:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.Log.Warn("bad event frame", "err", err)
			return
		}
		switch ev.Event {
		case EventConnectChallenge:
			c.handleChallenge(ctx, ev.Payload)
		case EventChat:
			c.handleChatEvent(ctx, ev.Payload)
		default:
			c.Log.Debug("unknown event", "event", ev.Event)
		}
	default:
		c.Log.Debug("unknown frame type", "type", env.Type)
	}
}

// Call issues a request and waits for the correlated response. This is the
// generic RPC surface; chat and handshake requests go through the same path.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.callWithID(ctx, uuid.New().String(), method, params)
}

func (c *Client) callWithID(ctx context.Context, id, method string, params any) (json.RawMessage, error) {
	frame := Request{Type: TypeRequest, ID: id, Method: method, Params: params}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan callResult, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, data)
	cancel()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			if re, ok := res.err.(*RequestError); ok {
				re.Method = method
			}
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// resolve completes the pending request matching res.ID. Responses with no
// pending entry (late arrivals after cleanup) are dropped.
func (c *Client) resolve(res Response) {
	c.mu.Lock()
	ch, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if res.OK {
		ch <- callResult{payload: res.Payload}
		return
	}
	msg := "request rejected"
	if res.Error != nil && res.Error.Message != "" {
		msg = res.Error.Message
	}
	ch <- callResult{err: &RequestError{Message: msg}}
}

// failPending rejects every outstanding request, uniformly. Called on
// transport close and on Stop so no caller is left hanging.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pend := c.pending
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()
	for _, ch := range pend {
		ch <- callResult{err: err}
	}
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.OnConnectionChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// markConnected completes the handshake for conn. When conn is no longer the
// live transport the late success is discarded: the reconnect loop already
// reported the drop and owns the state from here.
func (c *Client) markConnected(conn *websocket.Conn) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return false
	}
	c.hs = hsAuthenticated
	c.hsConnectID = ""
	c.backoff.Reset()
	changed := c.state != StateConnected
	c.state = StateConnected
	cb := c.OnConnectionChange
	c.mu.Unlock()
	if changed && cb != nil {
		cb(StateConnected)
	}
	return true
}
