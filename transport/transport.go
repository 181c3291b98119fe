// Package transport implements mux.Transport over a WebSocket connection
// using github.com/gorilla/websocket, and the HTTP-upgrade boundary that
// authenticates and negotiates one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/penguin-tunnel/penguin/mux"
)

// ProtocolVersion is the short ASCII token exchanged as the
// Sec-WebSocket-Protocol header during upgrade. Any mismatch rejects the
// upgrade.
const ProtocolVersion = "penguin.v1"

// PSKHeader is the optional header carrying the pre-shared key.
const PSKHeader = "x-penguin-psk"

// ErrUpgradeRejected is returned by Upgrade when the protocol header is
// missing/mismatched or the PSK does not match; the HTTP server always
// turns this into a 404 response so the endpoint is indistinguishable from
// a missing route.
var ErrUpgradeRejected = errors.New("transport: upgrade rejected")

// WebSocketTransport adapts a *websocket.Conn to mux.Transport. gorilla's
// Conn forbids concurrent writers, so every outbound call is serialized by
// writeMu; mux.Session already serializes its own writes through
// lockedSink, but WebSocketTransport does not rely on that: it is safe to
// share with more than one caller.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebSocketTransport wraps an already-established *websocket.Conn.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) SendBinary(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (t *WebSocketTransport) SendPing(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.PingMessage, payload)
}

func (t *WebSocketTransport) SendPong(ctx context.Context, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.PongMessage, payload)
}

// Next blocks for the next WebSocket data message.
func (t *WebSocketTransport) Next(ctx context.Context) (mux.Message, error) {
	return nextFromConn(ctx, t.conn)
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}

// nextFromConn performs one blocking ReadMessage call translated into a
// mux.Message. gorilla/websocket's default Conn only ever hands
// ReadMessage a Text or Binary frame (or an error): incoming Ping frames
// are answered automatically by the library's default ping handler
// (an immediate Pong) and incoming Pong frames are swallowed by its default
// pong handler, neither reaching this call at all; a Close frame surfaces
// as an error satisfying websocket.IsCloseError, handled below. The
// MessagePing/MessagePong/MessageClose arms in the switch exist for
// mux.Transport implementations that can observe those distinctly (e.g.
// pipe.go's in-memory transport) and are unreachable from this
// implementation in practice.
func nextFromConn(ctx context.Context, conn *websocket.Conn) (mux.Message, error) {
	type result struct {
		kind    int
		payload []byte
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		kind, payload, err := conn.ReadMessage()
		ch <- result{kind: kind, payload: payload, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if websocket.IsCloseError(r.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return mux.Message{}, mux.ErrTransportClosed
			}
			return mux.Message{}, fmt.Errorf("transport: %w", r.err)
		}
		switch r.kind {
		case websocket.BinaryMessage:
			return mux.Message{Kind: mux.MessageBinary, Payload: r.payload}, nil
		case websocket.TextMessage:
			return mux.Message{Kind: mux.MessageText, Payload: r.payload}, nil
		case websocket.PingMessage:
			return mux.Message{Kind: mux.MessagePing, Payload: r.payload}, nil
		case websocket.PongMessage:
			return mux.Message{Kind: mux.MessagePong, Payload: r.payload}, nil
		case websocket.CloseMessage:
			return mux.Message{Kind: mux.MessageClose}, nil
		default:
			return mux.Message{}, mux.ErrTransportClosed
		}
	case <-ctx.Done():
		return mux.Message{}, ctx.Err()
	}
}

// checkUpgradeHeaders validates, on the upgrade path, the protocol and PSK
// headers that the dial path sets.
func checkUpgradeHeaders(header http.Header, psk string) error {
	if header.Get("Sec-WebSocket-Protocol") != ProtocolVersion {
		return ErrUpgradeRejected
	}
	if psk != "" && header.Get(PSKHeader) != psk {
		return ErrUpgradeRejected
	}
	return nil
}
