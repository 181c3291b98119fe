package mux

import (
	"context"
	"sync"
)

// pipeTransport is an in-memory duplex Transport, the moral equivalent of
// net.Pipe for binary-message transports. NewPipe returns a connected pair;
// it is used by the end-to-end tests in this package and by the socks5
// adapter's tests. Production code goes through package transport's
// WebSocket implementation instead.
type pipeTransport struct {
	out chan Message
	in  <-chan Message

	closeOnce sync.Once
	closed    chan struct{}
	peerClose func()
}

// NewPipe returns two Transports, each other's peer, connected by
// in-memory channels that buffer 256 messages in each direction.
func NewPipe() (Transport, Transport) {
	ab := make(chan Message, 256)
	ba := make(chan Message, 256)

	a := &pipeTransport{out: ab, in: ba, closed: make(chan struct{})}
	b := &pipeTransport{out: ba, in: ab, closed: make(chan struct{})}
	a.peerClose = b.markClosed
	b.peerClose = a.markClosed
	return a, b
}

func (p *pipeTransport) markClosed() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *pipeTransport) send(ctx context.Context, m Message) error {
	select {
	case <-p.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) SendBinary(ctx context.Context, payload []byte) error {
	return p.send(ctx, Message{Kind: MessageBinary, Payload: payload})
}

func (p *pipeTransport) SendPing(ctx context.Context, payload []byte) error {
	return p.send(ctx, Message{Kind: MessagePing, Payload: payload})
}

func (p *pipeTransport) SendPong(ctx context.Context, payload []byte) error {
	return p.send(ctx, Message{Kind: MessagePong, Payload: payload})
}

func (p *pipeTransport) Next(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-p.in:
		if !ok {
			return Message{}, ErrTransportClosed
		}
		return m, nil
	case <-p.closed:
		return Message{}, ErrTransportClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeTransport) Close() error {
	p.markClosed()
	if p.peerClose != nil {
		p.peerClose()
	}
	return nil
}
