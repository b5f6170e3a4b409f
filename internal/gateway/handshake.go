package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// hsState is the handshake sub-state, reset for every transport instance.
type hsState int

const (
	hsIdle hsState = iota
	hsSending
	hsAwaitingChallenge
	hsAuthenticated
)

// errChallenged marks a connect attempt superseded by a server challenge;
// the signed resend is already on its way, so the attempt is abandoned
// without closing the transport.
var errChallenged = errors.New("gateway: connect superseded by challenge")

func (c *Client) connectParams(nonce string) (*ConnectParams, error) {
	signedAt := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := SignedMessage(c.Identity.DeviceID, c.Client.ID, c.Client.Version, c.Role, c.Scopes, signedAt, c.Token, nonce)
	sig, err := c.Identity.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign assertion: %w", err)
	}
	return &ConnectParams{
		MinProtocol: minProtocol,
		MaxProtocol: maxProtocol,
		Client:      c.Client,
		Role:        c.Role,
		Scopes:      c.Scopes,
		Device: DeviceAssertion{
			ID:        c.Identity.DeviceID,
			PublicKey: c.Identity.PublicKey,
			Signature: sig,
			SignedAt:  signedAt,
			Nonce:     nonce,
		},
		Caps:      c.Caps,
		Auth:      AuthCredentials{Token: c.Token, Password: c.Password},
		UserAgent: c.UserAgent,
		Locale:    c.Locale,
	}, nil
}

// sendConnect drives one connect attempt. The hsSending guard keeps it to a
// single attempt per transport unless a challenge resets the sub-state.
func (c *Client) sendConnect(ctx context.Context) error {
	c.mu.Lock()
	if c.hs == hsSending || c.hs == hsAuthenticated {
		c.mu.Unlock()
		return nil
	}
	c.hs = hsSending
	nonce := c.hsNonce
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	params, err := c.connectParams(nonce)
	if err != nil {
		// Without a signed assertion the connect can never be sent; hang up
		// so the reconnect loop takes over instead of idling until the
		// server times us out.
		conn.Close(websocket.StatusCode(closeAuthFailed), "handshake failed")
		return err
	}

	id := uuid.New().String()
	c.mu.Lock()
	c.hsConnectID = id
	c.mu.Unlock()

	go func() {
		hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
		_, err := c.callWithID(hsCtx, id, MethodConnect, params)
		if errors.Is(err, errChallenged) {
			return
		}
		if err != nil {
			c.Log.Warn("gateway handshake rejected", "err", err)
			// Force-close so the regular reconnect path takes over rather
			// than lingering half-authenticated.
			conn.Close(websocket.StatusCode(closeAuthFailed), "handshake failed")
			return
		}
		if !c.markConnected(conn) {
			return
		}
		c.mu.Lock()
		session := c.sessionKey
		c.mu.Unlock()
		if session != "" {
			go c.refreshHistory(ctx, "")
		}
	}()
	return nil
}

// handleChallenge stores the server nonce and immediately re-signs and
// resends the connect request with it, abandoning any attempt in flight.
func (c *Client) handleChallenge(ctx context.Context, payload json.RawMessage) {
	var ch ChallengePayload
	if err := json.Unmarshal(payload, &ch); err != nil || ch.Nonce == "" {
		c.Log.Warn("bad connect.challenge payload")
		return
	}

	c.mu.Lock()
	c.hsNonce = ch.Nonce
	var stale chan callResult
	if id := c.hsConnectID; id != "" {
		stale = c.pending[id]
		delete(c.pending, id)
		c.hsConnectID = ""
	}
	c.hs = hsAwaitingChallenge
	c.mu.Unlock()

	if stale != nil {
		stale <- callResult{err: errChallenged}
	}
	if err := c.sendConnect(ctx); err != nil {
		c.Log.Warn("connect resend after challenge failed", "err", err)
	}
}
