package mux

import "context"

// OpenStream is the client front-end: client_new_stream_channel. It
// allocates a local port, emits a Syn handshake encoding (host, port), and
// suspends until the corresponding Ack arrives and the stream is ready.
//
// Only valid for a client-role Session; calling it on a server-role Session
// still sends a Syn, which the client-role peer rejects with
// ErrClientReceivedSyn by shutting its session down.
func (s *Session) OpenStream(ctx context.Context, host string, port uint16) (*Stream, error) {
	payload, err := EncodeSynPayload(host, port)
	if err != nil {
		return nil, err
	}

	waiter := make(chan *Stream, 1)

	s.ports.mu.Lock()
	ourPort, err := s.ports.allocLocked()
	if err != nil {
		s.ports.mu.Unlock()
		return nil, err
	}
	// Reserve the port immediately so a concurrent OpenStream cannot pick
	// the same id before the Ack arrives and creates the real entry.
	// Buffered like a real entry (not cap-0): a misbehaving or racing peer
	// can get a Psh in before its own Ack, and handlePsh's delivery must not
	// block the demultiplex loop waiting on a queue nothing will ever drain
	// if the handshake never completes.
	s.ports.entries[ourPort] = newPortEntry(s.config.StreamFrameBufferSize)
	s.ports.mu.Unlock()

	s.pendingMu.Lock()
	s.pending[ourPort] = waiter
	s.pendingMu.Unlock()

	cleanupPending := func() {
		s.pendingMu.Lock()
		delete(s.pending, ourPort)
		s.pendingMu.Unlock()
		s.ports.mu.Lock()
		delete(s.ports.entries, ourPort)
		s.ports.mu.Unlock()
	}

	if err := s.sink.SendFrame(ctx, &StreamFrame{
		SourcePort: ourPort,
		Flag:       FlagSyn,
		Payload:    payload,
	}); err != nil {
		cleanupPending()
		return nil, err
	}

	select {
	case stream, ok := <-waiter:
		if !ok {
			return nil, ErrSessionClosed
		}
		return stream, nil
	case <-s.closed:
		cleanupPending()
		return nil, ErrSessionClosed
	case <-ctx.Done():
		cleanupPending()
		return nil, ctx.Err()
	}
}

// AcceptStream is the server front-end: server_new_stream_channel. It blocks
// until the next inbound Syn has been given a port and dispatched; the Ack
// to the peer is sent right after dispatch.
func (s *Session) AcceptStream(ctx context.Context) (*Stream, error) {
	select {
	case stream, ok := <-s.acceptCh:
		if !ok {
			return nil, ErrSessionClosed
		}
		return stream, nil
	case <-s.closed:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendDatagram pushes one UDP datagram frame end to end.
func (s *Session) SendDatagram(ctx context.Context, host string, port uint16, sourceID uint32, payload []byte) error {
	return s.sink.SendFrame(ctx, &DatagramFrame{
		Host:     []byte(host),
		Port:     port,
		SourceID: sourceID,
		Payload:  payload,
	})
}

// RecvDatagram blocks for the next inbound datagram frame.
func (s *Session) RecvDatagram(ctx context.Context) (*DatagramFrame, error) {
	select {
	case frame, ok := <-s.datagramCh:
		if !ok {
			return nil, ErrSessionClosed
		}
		return frame, nil
	case <-s.closed:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
