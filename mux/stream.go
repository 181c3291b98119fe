package mux

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// dropNotice is what a Stream sends back to the core when the user is done
// with it. ourPort == 0 is reserved: the Session itself uses it as the
// sentinel meaning "the owning front-end was dropped", which tells the
// demultiplex loop to exit and run shutdown.
type dropNotice struct {
	ourPort   uint16
	theirPort uint16
	finSent   bool
}

// Stream is the user-facing byte-stream endpoint for one virtual port. It
// implements io.ReadWriteCloser plus CloseWrite for an orderly half-close.
//
// A Stream is created by the core, never directly: OpenStream (client) or
// AcceptStream (server).
type Stream struct {
	ourPort, theirPort uint16
	destHost           string
	destPort           uint16

	entry *portEntry
	sink  *lockedSink
	dropC chan<- dropNotice

	readMu  sync.Mutex
	carry   []byte
	eofSeen atomic.Bool

	finSent   atomic.Bool
	closeOnce sync.Once

	maxFrameSize int
}

func newStream(ourPort, theirPort uint16, destHost string, destPort uint16, entry *portEntry, sink *lockedSink, dropC chan<- dropNotice, maxFrameSize int) *Stream {
	return &Stream{
		ourPort:      ourPort,
		theirPort:    theirPort,
		destHost:     destHost,
		destPort:     destPort,
		entry:        entry,
		sink:         sink,
		dropC:        dropC,
		maxFrameSize: maxFrameSize,
	}
}

// OurPort is this endpoint's local virtual port.
func (s *Stream) OurPort() uint16 { return s.ourPort }

// TheirPort is the peer's virtual port for this channel.
func (s *Stream) TheirPort() uint16 { return s.theirPort }

// DestinationHost and DestinationPort are the (host, port) captured from the
// inbound Syn handshake; only meaningful on the server side, where the
// adapter uses them to dial the real destination. On the client side the
// host is empty, since the client already knows what it asked to connect to.
func (s *Stream) DestinationHost() string { return s.destHost }
func (s *Stream) DestinationPort() uint16 { return s.destPort }

// Read returns buffered carry-over bytes first, otherwise blocks for the
// next frame from the port's receive queue. It never returns a partial read
// below one byte unless at EOF. An empty payload from the peer (Fin, or the
// port being torn down) is dequeued once and turns into io.EOF; every later
// Read returns io.EOF as well without touching the queue.
func (s *Stream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.eofSeen.Load() {
		return 0, io.EOF
	}

	if len(s.carry) == 0 {
		payload, ok := <-s.entry.queue
		if !ok {
			s.eofSeen.Store(true)
			return 0, io.EOF
		}
		if len(payload) == 0 {
			s.eofSeen.Store(true)
			return 0, io.EOF
		}
		s.carry = payload
	}

	n := copy(p, s.carry)
	s.carry = s.carry[n:]
	return n, nil
}

// Write frames the caller's buffer into one Psh frame per call, splitting at
// maxFrameSize so no single frame exceeds the transport's message limit. It
// fails with ErrBrokenPipe once the port has been removed (peer Rst, or a
// local Fin has already been sent).
func (s *Stream) Write(p []byte) (int, error) {
	if s.entry.removed.Load() || s.finSent.Load() {
		return 0, ErrBrokenPipe
	}

	total := 0
	for len(p) > 0 {
		chunk := p
		if s.maxFrameSize > 0 && len(chunk) > s.maxFrameSize {
			chunk = chunk[:s.maxFrameSize]
		}
		if s.entry.removed.Load() {
			return total, ErrBrokenPipe
		}
		err := s.sink.SendFrame(context.Background(), &StreamFrame{
			SourcePort:      s.ourPort,
			DestinationPort: s.theirPort,
			Flag:            FlagPsh,
			Payload:         chunk,
		})
		if err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// CloseWrite emits a Fin frame and marks the write half shut down. Writes
// after CloseWrite fail with ErrBrokenPipe; reads are unaffected. Idempotent.
func (s *Stream) CloseWrite() error {
	if !s.finSent.CompareAndSwap(false, true) {
		return nil
	}
	return s.sink.SendFrame(context.Background(), &StreamFrame{
		SourcePort:      s.ourPort,
		DestinationPort: s.theirPort,
		Flag:            FlagFin,
	})
}

// Close tells the core the user is done with this stream. The core emits a
// Rst if Fin was never sent, then frees the port. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		notice := dropNotice{ourPort: s.ourPort, theirPort: s.theirPort, finSent: s.finSent.Load()}
		select {
		case s.dropC <- notice:
		default:
			// The drop channel is generously buffered (see Session); a full
			// buffer only happens once the session itself is already
			// shutting down, in which case the port is about to be
			// force-removed anyway.
			go func() { s.dropC <- notice }()
		}
	})
	return nil
}
