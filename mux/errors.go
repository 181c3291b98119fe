package mux

import "errors"

// Sentinel errors for the taxonomy described in the protocol design:
// transport errors are always fatal to the multiplexor, protocol errors
// abort the demultiplex loop and propagate to every live stream, resource
// errors are returned directly to the caller that requested an operation.
var (
	// ErrInvalidFrame is returned by DecodeFrame on an unknown tag, a
	// truncated header, a host length exceeding what remains of the
	// message, or an unrecognised flag code.
	ErrInvalidFrame = errors.New("mux: invalid frame")

	// ErrRHostTooLong is returned by EncodeSynPayload when the host is
	// longer than 255 octets.
	ErrRHostTooLong = errors.New("mux: handshake host exceeds 255 octets")

	// ErrNoAvailablePorts is returned by the port allocator once 65534
	// ports are live (0 is reserved and never allocated).
	ErrNoAvailablePorts = errors.New("mux: no available ports")

	// ErrBrokenPipe is returned by Stream.Write once the port has been
	// removed from the table (peer Rst, Fin already sent, or the session
	// has shut down).
	ErrBrokenPipe = errors.New("mux: broken pipe")

	// ErrClientReceivedSyn is a protocol error: a Syn frame arrived at a
	// client-role session. Only servers may receive Syn.
	ErrClientReceivedSyn = errors.New("mux: client received syn")

	// ErrServerReceivedAck is a protocol error: an Ack frame arrived at a
	// server-role session. Only clients may receive Ack.
	ErrServerReceivedAck = errors.New("mux: server received ack")

	// ErrTextMessage is a protocol error: the transport delivered a text
	// message, which this protocol never uses.
	ErrTextMessage = errors.New("mux: unexpected text message")

	// ErrSessionClosed is returned by front-end calls made after the
	// session has shut down.
	ErrSessionClosed = errors.New("mux: session closed")

	// ErrTransportClosed is returned by a Transport's Next method once the
	// peer has closed the connection cleanly, and by sends on a closed sink.
	ErrTransportClosed = errors.New("mux: transport closed")
)
