package mux

import "time"

// Role determines which side of a Session may initiate Syn and which may
// reply with Ack; receiving the wrong one is a protocol error.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

const (
	// DefaultMaxFrameSize bounds a single Psh frame's payload; Write
	// splits larger buffers across multiple frames.
	DefaultMaxFrameSize = 32 * 1024

	// DefaultStreamFrameBufferSize is STREAM_FRAME_BUFFER_SIZE: the depth
	// of each port's inbound Psh queue. The demultiplex loop's send into a
	// full queue blocks, which is the back-pressure mechanism described in
	// the design: per-channel head-of-line blocking, shared across the one
	// transport.
	DefaultStreamFrameBufferSize = 32

	// DefaultAcceptBacklog bounds the server's queue of inbound streams
	// awaiting AcceptStream and each session's datagram inbox.
	DefaultAcceptBacklog = 256

	// DefaultDropBacklog sizes the drop-notify channel. It stands in for
	// the "unbounded" channel in the design: generous enough that a Close
	// storm never blocks a caller in practice.
	DefaultDropBacklog = 4096
)

// Config holds the tunables a Session is built with. Use NewConfig for
// defaults and the With* options to override individual fields, mirroring
// the functional-options style already used across this codebase's CLI
// layer.
type Config struct {
	MaxFrameSize          int
	StreamFrameBufferSize int
	AcceptBacklog         int
	DropBacklog           int
	KeepAliveInterval     time.Duration // zero disables keepalive
}

// NewConfig returns the default Config.
func NewConfig() *Config {
	return &Config{
		MaxFrameSize:          DefaultMaxFrameSize,
		StreamFrameBufferSize: DefaultStreamFrameBufferSize,
		AcceptBacklog:         DefaultAcceptBacklog,
		DropBacklog:           DefaultDropBacklog,
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithKeepAlive enables a periodic transport-level Ping every interval.
// Passing zero disables it (the default); a missed tick is simply skipped,
// never bursted.
func WithKeepAlive(interval time.Duration) Option {
	return func(c *Config) { c.KeepAliveInterval = interval }
}

// WithMaxFrameSize overrides the per-Psh-frame payload cap.
func WithMaxFrameSize(n int) Option {
	return func(c *Config) { c.MaxFrameSize = n }
}

// WithStreamFrameBufferSize overrides the per-port inbound queue depth.
func WithStreamFrameBufferSize(n int) Option {
	return func(c *Config) { c.StreamFrameBufferSize = n }
}

// WithAcceptBacklog overrides the inbound-stream and datagram queue depth.
func WithAcceptBacklog(n int) Option {
	return func(c *Config) { c.AcceptBacklog = n }
}
