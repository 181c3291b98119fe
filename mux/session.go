package mux

import (
	"context"
	"errors"
	"sync"
	"time"
)

// inboundEvent carries one result from the background reader goroutine to
// the demultiplex loop.
type inboundEvent struct {
	msg Message
	err error
}

// Session is the multiplexor core: it owns the port table, the single
// demultiplex loop that drives the protocol state machine, and the shared
// sink every stream writes through. Construct one with NewSession over a
// connected Transport and a Role; then drive it with OpenStream (client) or
// AcceptStream (server).
type Session struct {
	role      Role
	transport Transport
	sink      *lockedSink
	config    *Config

	ports *portTable

	pendingMu sync.Mutex
	pending   map[uint16]chan *Stream // client: ports awaiting Ack

	acceptCh   chan *Stream
	datagramCh chan *DatagramFrame

	dropCh chan dropNotice

	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{} // closed once shutdown begins
	done      chan struct{} // closed once the demultiplex loop has returned

	errMu   sync.Mutex
	lastErr error
}

// NewSession constructs a Session over transport and spawns its demultiplex
// loop. role determines which control frames this endpoint may legally
// originate and receive.
func NewSession(transport Transport, role Role, opts ...Option) *Session {
	cfg := NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		role:       role,
		transport:  transport,
		sink:       newLockedSink(transport),
		config:     cfg,
		ports:      newPortTable(),
		pending:    make(map[uint16]chan *Stream),
		acceptCh:   make(chan *Stream, cfg.AcceptBacklog),
		datagramCh: make(chan *DatagramFrame, cfg.AcceptBacklog),
		dropCh:     make(chan dropNotice, cfg.DropBacklog),
		cancel:     cancel,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	go s.demultiplexLoop(ctx)
	return s
}

// Done returns a channel closed once the demultiplex loop has exited and
// shutdown has run to completion.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, or nil for a clean Close or
// a clean peer Close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Close drops the session's own front-end handle: it sends the (0, _, _)
// sentinel on the drop channel so the demultiplex loop exits and shutdown
// runs, then waits for that to complete.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		select {
		case s.dropCh <- dropNotice{ourPort: 0}:
		default:
			go func() { s.dropCh <- dropNotice{ourPort: 0} }()
		}
	})
	<-s.done
	return nil
}

// demultiplexLoop is the single logical worker for this Session: all
// port-table mutation happens here (or, for Psh lookups, under the port
// table's read lock). It selects among drop notifications, inbound
// transport messages, and keepalive ticks until one of them ends the
// session.
func (s *Session) demultiplexLoop(ctx context.Context) {
	events := make(chan inboundEvent, 1)
	go func() {
		for {
			msg, err := s.transport.Next(ctx)
			events <- inboundEvent{msg: msg, err: err}
			if err != nil {
				return
			}
		}
	}()

	var tickerC <-chan time.Time
	if s.config.KeepAliveInterval > 0 {
		ticker := time.NewTicker(s.config.KeepAliveInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	var finalErr error

loop:
	for {
		select {
		case notice := <-s.dropCh:
			if notice.ourPort == 0 {
				break loop
			}
			s.closePort(notice.ourPort, notice.theirPort, notice.finSent)

		case ev := <-events:
			if ev.err != nil {
				if !errors.Is(ev.err, ErrTransportClosed) {
					finalErr = ev.err
				}
				break loop
			}
			peerClosed, err := s.processMessage(ev.msg)
			if err != nil {
				finalErr = err
				break loop
			}
			if peerClosed {
				break loop
			}

		case <-tickerC:
			_ = s.sink.SendPing(ctx, nil)
		}
	}

	s.cancel()
	s.shutdown(finalErr)
}

// processMessage dispatches one transport-level event.
func (s *Session) processMessage(msg Message) (peerClosed bool, err error) {
	switch msg.Kind {
	case MessageBinary:
		frame, decErr := DecodeFrame(msg.Payload)
		if decErr != nil {
			return false, ErrInvalidFrame
		}
		switch f := frame.(type) {
		case *DatagramFrame:
			select {
			case s.datagramCh <- f:
			case <-s.closed:
			default:
				// Inbox full: drop rather than block the demultiplex loop;
				// datagrams have no delivery guarantee end to end anyway.
			}
			return false, nil
		case *StreamFrame:
			return false, s.processStreamFrame(f)
		}
		return false, nil

	case MessagePing:
		_ = s.sink.SendPong(context.Background(), msg.Payload)
		return false, nil

	case MessagePong:
		return false, nil

	case MessageClose:
		return true, nil

	case MessageText:
		return false, ErrTextMessage

	default:
		return false, nil
	}
}

func (s *Session) processStreamFrame(f *StreamFrame) error {
	switch f.Flag {
	case FlagSyn:
		if s.role != RoleServer {
			return ErrClientReceivedSyn
		}
		return s.handleSyn(f)

	case FlagAck:
		if s.role != RoleClient {
			return ErrServerReceivedAck
		}
		s.handleAck(f)
		return nil

	case FlagRst:
		// fin_sent=true suppresses the echoed Rst close_port would
		// otherwise emit.
		s.closePort(f.DestinationPort, f.SourcePort, true)
		return nil

	case FlagFin:
		s.ports.mu.RLock()
		entry, ok := s.ports.entries[f.DestinationPort]
		s.ports.mu.RUnlock()
		if ok {
			entry.deliverEOF()
		}
		return nil

	case FlagPsh:
		return s.handlePsh(f)

	default:
		return ErrInvalidFrame
	}
}

func (s *Session) handleSyn(f *StreamFrame) error {
	host, port, err := DecodeSynPayload(f.Payload)
	if err != nil {
		return err
	}

	s.ports.mu.Lock()
	ourPort, err := s.ports.allocLocked()
	if err != nil {
		s.ports.mu.Unlock()
		// Resource exhaustion on the server refuses the request without
		// tearing down the session: reply Rst using the client's own port
		// as destination so it observes a clean connection failure.
		_ = s.sink.SendFrame(context.Background(), &StreamFrame{
			DestinationPort: f.SourcePort,
			Flag:            FlagRst,
		})
		return nil
	}
	entry := newPortEntry(s.config.StreamFrameBufferSize)
	s.ports.entries[ourPort] = entry
	s.ports.mu.Unlock()

	stream := newStream(ourPort, f.SourcePort, host, port, entry, s.sink, s.dropCh, s.config.MaxFrameSize)

	select {
	case s.acceptCh <- stream:
	case <-s.closed:
		return nil
	}

	return s.sink.SendFrame(context.Background(), &StreamFrame{
		SourcePort:      ourPort,
		DestinationPort: f.SourcePort,
		Flag:            FlagAck,
	})
}

func (s *Session) handleAck(f *StreamFrame) {
	// The destination_port in an Ack is the client's own pending port.
	s.pendingMu.Lock()
	waiter, ok := s.pending[f.DestinationPort]
	if ok {
		delete(s.pending, f.DestinationPort)
	}
	s.pendingMu.Unlock()
	if !ok {
		// Stray or duplicate Ack; ignore.
		return
	}

	entry := newPortEntry(s.config.StreamFrameBufferSize)
	s.ports.mu.Lock()
	s.ports.entries[f.DestinationPort] = entry
	s.ports.mu.Unlock()

	stream := newStream(f.DestinationPort, f.SourcePort, "", 0, entry, s.sink, s.dropCh, s.config.MaxFrameSize)
	waiter <- stream
}

func (s *Session) handlePsh(f *StreamFrame) error {
	s.ports.mu.RLock()
	entry, ok := s.ports.entries[f.DestinationPort]
	s.ports.mu.RUnlock()

	if !ok || entry.removed.Load() {
		return s.sink.SendFrame(context.Background(), &StreamFrame{
			SourcePort:      f.DestinationPort,
			DestinationPort: f.SourcePort,
			Flag:            FlagRst,
		})
	}

	select {
	case entry.queue <- f.Payload:
	case <-s.closed:
	}
	return nil
}

// closePort is the shared close-port logic: remove the entry, deliver EOF to
// whatever remains of its queue, and emit Rst unless Fin was already sent or
// the port was already gone (a local drop racing a peer Rst for the same
// port would otherwise send a stray, if harmless, Rst for nothing).
func (s *Session) closePort(ourPort, theirPort uint16, finSent bool) {
	s.ports.mu.Lock()
	entry, ok := s.ports.entries[ourPort]
	delete(s.ports.entries, ourPort)
	s.ports.mu.Unlock()

	if ok {
		entry.removed.Store(true)
		entry.deliverEOF()
	}

	if !finSent && ok {
		_ = s.sink.SendFrame(context.Background(), &StreamFrame{
			SourcePort:      ourPort,
			DestinationPort: theirPort,
			Flag:            FlagRst,
		})
	}
}

// shutdown drains the port table, waking every live stream's reader with
// EOF and every pending OpenStream waiter with an error, then closes the
// transport. It runs exactly once, whether triggered by the local front-end
// dropping, a peer Close, or a fatal error.
func (s *Session) shutdown(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()

	select {
	case <-s.closed:
	default:
		close(s.closed)
	}

	s.ports.mu.Lock()
	for _, entry := range s.ports.entries {
		entry.removed.Store(true)
		entry.deliverEOF()
	}
	s.ports.entries = make(map[uint16]*portEntry)
	s.ports.mu.Unlock()

	s.pendingMu.Lock()
	for port, waiter := range s.pending {
		close(waiter)
		delete(s.pending, port)
	}
	s.pendingMu.Unlock()

	_ = s.sink.Close()
	close(s.done)
}
