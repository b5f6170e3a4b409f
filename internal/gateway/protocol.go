package gateway

import (
	"encoding/json"
	"strings"
)

// Frame kinds for the gateway wire protocol. Every frame is one JSON object
// tagged with a "type" field for routing.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Events pushed by the gateway.
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
)

// Request methods.
const (
	MethodConnect     = "connect"
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
)

// States carried by chat push events.
const (
	ChatEventDelta   = "delta"
	ChatEventFinal   = "final"
	ChatEventError   = "error"
	ChatEventAborted = "aborted"
)

// Protocol version bounds advertised in the connect request.
const (
	minProtocol = 1
	maxProtocol = 1
)

// signTag is the fixed leading field of the device assertion message.
const signTag = "foyer.connect.v1"

// closeAuthFailed is the WebSocket close code used when the gateway rejects
// the handshake, so auth failures are distinguishable from transport drops.
const closeAuthFailed = 4008

// Envelope is the minimal decode used to route an incoming frame.
type Envelope struct {
	Type string `json:"type"`
}

// Request is an outgoing request frame.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is an incoming response frame correlated to a Request by ID.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries the failure message of a rejected request.
type ErrorDetail struct {
	Message string `json:"message"`
}

// Event is an incoming server-push frame.
type Event struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientDescriptor identifies this client in the connect request.
type ClientDescriptor struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId"`
}

// DeviceAssertion proves possession of the device signing key. SignedAt is
// unix milliseconds as a decimal string and appears verbatim in the signed
// message so the server can reconstruct it.
type DeviceAssertion struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// AuthCredentials carries whichever credential the deployment configured.
type AuthCredentials struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// ConnectParams is the payload of the connect request.
type ConnectParams struct {
	MinProtocol int              `json:"minProtocol"`
	MaxProtocol int              `json:"maxProtocol"`
	Client      ClientDescriptor `json:"client"`
	Role        string           `json:"role"`
	Scopes      []string         `json:"scopes"`
	Device      DeviceAssertion  `json:"device"`
	Caps        []string         `json:"caps"`
	Auth        AuthCredentials  `json:"auth"`
	UserAgent   string           `json:"userAgent"`
	Locale      string           `json:"locale"`
}

// ChallengePayload is the connect.challenge event body.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// ChatSendParams is the payload of a chat.send request. Deliver stays false
// so the gateway does not also route the reply through other channels.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatHistoryParams is the payload of a chat.history request.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

// ChatHistoryPayload is the chat.history response body.
type ChatHistoryPayload struct {
	Messages []WireMessage `json:"messages"`
}

// ChatEventPayload is the body of a chat push event.
type ChatEventPayload struct {
	SessionKey   string       `json:"sessionKey"`
	State        string       `json:"state"`
	Message      *WireMessage `json:"message,omitempty"`
	RunID        string       `json:"runId,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// WireMessage is a chat message as the gateway encodes it. Content is
// either a flat JSON string or an array of typed blocks.
type WireMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

// ContentBlock is one element of a structured message content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text flattens the message content. Flat strings pass through; block
// arrays contribute only their text-typed blocks, concatenated in order.
func (m *WireMessage) Text() string {
	if m == nil || len(m.Content) == 0 {
		return ""
	}
	var flat string
	if err := json.Unmarshal(m.Content, &flat); err == nil {
		return flat
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ChatMessage is a normalized chat message handed to consumers.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// SignedMessage assembles the device assertion string the gateway verifies.
// Field order is fixed; the server rebuilds this byte-for-byte. The nonce is
// appended only when the server issued one.
func SignedMessage(deviceID, clientID, clientVersion, role string, scopes []string, signedAt, token, nonce string) string {
	fields := []string{signTag, deviceID, clientID, clientVersion, role, strings.Join(scopes, ","), signedAt, token}
	if nonce != "" {
		fields = append(fields, nonce)
	}
	return strings.Join(fields, "|")
}
