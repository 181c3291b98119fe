package mux

import (
	"context"
	"sync"
)

// lockedSink serializes concurrent producers (the demultiplex loop and every
// live stream's write half) onto the single underlying Transport. Holding
// the lock across the Transport call is acceptable: only one frame is ever
// in flight at a time, messages are bounded in size, and the lock is
// released between messages so no frame can starve another indefinitely.
type lockedSink struct {
	mu        sync.Mutex
	transport Transport
	closed    bool
}

func newLockedSink(t Transport) *lockedSink {
	return &lockedSink{transport: t}
}

// SendFrame encodes and pushes f, serialized against every other producer.
func (s *lockedSink) SendFrame(ctx context.Context, f Frame) error {
	payload, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrTransportClosed
	}
	return s.transport.SendBinary(ctx, payload)
}

// SendPing pushes a transport-level ping, used only by the keepalive timer.
func (s *lockedSink) SendPing(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrTransportClosed
	}
	return s.transport.SendPing(ctx, payload)
}

// SendPong replies to a peer ping.
func (s *lockedSink) SendPong(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrTransportClosed
	}
	return s.transport.SendPong(ctx, payload)
}

// Flush is a best-effort no-op: every SendFrame call already pushes a
// complete, self-delimited transport message, so there is nothing buffered
// to flush. It exists so callers tearing down a stream can call it
// unconditionally without special-casing "already closed".
func (s *lockedSink) Flush() error {
	return nil
}

// Close closes the underlying transport and marks the sink closed so late
// writers fail immediately instead of blocking on a dead connection. Safe to
// call more than once.
func (s *lockedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.transport.Close()
}
