package transport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/penguin-tunnel/penguin/mux"
)

// Upgrader wraps gorilla's websocket.Upgrader with a check of the
// protocol/PSK headers the dial path sets. A failed check never reveals itself as a 4xx
// with a body: Upgrade returns ErrUpgradeRejected and it is the caller's
// (server package's) job to answer with the same 404 used for any other
// unknown route, so the tunnel endpoint is indistinguishable from a
// missing one to a prober lacking the key.
type Upgrader struct {
	PSK         string
	CheckOrigin func(r *http.Request) bool
	upgrader    websocket.Upgrader
}

// NewUpgrader builds an Upgrader for the given pre-shared key. An empty PSK
// disables the header check.
func NewUpgrader(psk string) *Upgrader {
	u := &Upgrader{PSK: psk}
	u.upgrader = websocket.Upgrader{
		Subprotocols:    []string{ProtocolVersion},
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return u
}

// Upgrade validates the request and completes the WebSocket handshake.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (mux.Transport, error) {
	if err := checkUpgradeHeaders(r.Header, u.PSK); err != nil {
		return nil, err
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return NewWebSocketTransport(conn), nil
}
