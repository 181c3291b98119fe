package adapter

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/penguin-tunnel/penguin/mux"
)

// DatagramSession is the subset of *mux.Session a UDP adapter needs.
type DatagramSession interface {
	SendDatagram(ctx context.Context, host string, port uint16, sourceID uint32, payload []byte) error
	RecvDatagram(ctx context.Context) (*mux.DatagramFrame, error)
}

// UDPRelay listens on a local UDP socket and forwards datagrams to
// (remoteHost, remotePort) over the session, tagging each local client
// address with a source_id so replies can be fanned back out to the right
// peer. This mirrors a conntrack-style NAT table keyed by client address.
type UDPRelay struct {
	Opener     DatagramSession
	RemoteHost string
	RemotePort uint16
	Log        *logrus.Entry
	IdleTTL    time.Duration

	mu     sync.Mutex
	nextID uint32
	byID   map[uint32]*net.UDPAddr
	byAddr map[string]uint32
}

func NewUDPRelay(opener DatagramSession, remoteHost string, remotePort uint16) *UDPRelay {
	return &UDPRelay{
		Opener:     opener,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
		IdleTTL:    2 * time.Minute,
		byID:       make(map[uint32]*net.UDPAddr),
		byAddr:     make(map[string]uint32),
	}
}

// Serve reads datagrams from conn and forwards them, and concurrently
// drains the session's inbound datagram queue back to the matching client
// address. Serve blocks until ctx is cancelled.
func (r *UDPRelay) Serve(ctx context.Context, conn *net.UDPConn) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.readLoop(ctx, conn) }()
	go func() { errCh <- r.writeLoop(ctx, conn) }()

	<-ctx.Done()
	conn.Close()
	<-errCh
	return nil
}

func (r *UDPRelay) readLoop(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		payload := append([]byte(nil), buf[:n]...)
		id := r.sourceID(addr)
		if err := r.Opener.SendDatagram(ctx, r.RemoteHost, r.RemotePort, id, payload); err != nil && r.Log != nil {
			r.Log.WithError(err).Warn("forwarding udp datagram failed")
		}
	}
}

func (r *UDPRelay) writeLoop(ctx context.Context, conn *net.UDPConn) error {
	for {
		frame, err := r.Opener.RecvDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		addr := r.addrForID(frame.SourceID)
		if addr == nil {
			continue
		}
		if _, err := conn.WriteToUDP(frame.Payload, addr); err != nil && r.Log != nil {
			r.Log.WithError(err).Warn("writing udp reply failed")
		}
	}
}

func (r *UDPRelay) sourceID(addr *net.UDPAddr) uint32 {
	key := addr.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byAddr[key]; ok {
		return id
	}
	r.nextID++
	id := r.nextID
	r.byAddr[key] = id
	r.byID[id] = addr
	return id
}

func (r *UDPRelay) addrForID(id uint32) *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}
