package mux

import "context"

// MessageKind discriminates the events a Transport surfaces to the
// demultiplex loop. It mirrors the WebSocket message/control-frame
// vocabulary the transport is built on (binary messages, ping/pong, close,
// and the text messages this protocol never sends but must reject).
type MessageKind int

const (
	MessageBinary MessageKind = iota
	MessagePing
	MessagePong
	MessageClose
	MessageText
)

// Message is one event read from a Transport.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

// Transport is the abstract bidirectional, length-delimited binary-message
// pipe the multiplexor core is built on. A concrete implementation (see
// package transport) wraps a WebSocket connection; tests use the in-memory
// pipe in pipe.go. The core never assumes anything about the implementation
// beyond this contract.
type Transport interface {
	// SendBinary pushes one binary message. Implementations must serialize
	// concurrent calls themselves or rely on the caller doing so (the core
	// always calls through lockedSink, which serializes for them).
	SendBinary(ctx context.Context, payload []byte) error

	// SendPing and SendPong push transport-level control messages.
	SendPing(ctx context.Context, payload []byte) error
	SendPong(ctx context.Context, payload []byte) error

	// Next blocks for the next inbound message. It returns
	// ErrTransportClosed once the peer has closed the connection cleanly,
	// and another error if the connection has failed; the session ends on
	// either, recording only the latter as its Err.
	Next(ctx context.Context) (Message, error)

	// Close closes the transport. Safe to call more than once.
	Close() error
}
