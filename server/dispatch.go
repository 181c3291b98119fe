package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/penguin-tunnel/penguin/adapter"
	penguinmux "github.com/penguin-tunnel/penguin/mux"
)

// DefaultHandler accepts streams and datagrams from a tunnel session and
// dials the requested (host, port) directly on the server's network,
// mirroring an SSH server's handling of a forwarded-tcpip/direct-tcpip
// channel. It runs until the session shuts down.
func DefaultHandler(log *logrus.Entry) func(ctx context.Context, session *penguinmux.Session) {
	return func(ctx context.Context, session *penguinmux.Session) {
		go dispatchStreams(ctx, session, log)
		go dispatchDatagrams(ctx, session, log)
		<-session.Done()
	}
}

func dispatchStreams(ctx context.Context, session *penguinmux.Session, log *logrus.Entry) {
	for {
		stream, err := session.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func() {
			defer stream.Close()

			dest := net.JoinHostPort(stream.DestinationHost(), strconv.Itoa(int(stream.DestinationPort())))
			conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", dest)
			if err != nil {
				if log != nil {
					log.WithError(err).Warnf("dialing %s failed", dest)
				}
				return
			}
			defer conn.Close()

			adapter.SpliceStream(ctx, conn, stream, log)
		}()
	}
}

// udpUpstreams tracks one upstream *net.UDPConn per sourceID, so replies
// from a given upstream socket route back to the right client-side
// source_id without the server needing to know about the client's own NAT
// table. The table is keyed by sourceID alone: the destination of the first
// datagram seen for a sourceID is used for every later datagram with that
// sourceID until the upstream socket idles out.
type udpUpstreams struct {
	mu    sync.Mutex
	conns map[uint32]*net.UDPConn
}

func dispatchDatagrams(ctx context.Context, session *penguinmux.Session, log *logrus.Entry) {
	up := &udpUpstreams{conns: make(map[uint32]*net.UDPConn)}
	for {
		frame, err := session.RecvDatagram(ctx)
		if err != nil {
			return
		}
		go up.forward(ctx, session, frame, log)
	}
}

func (u *udpUpstreams) forward(ctx context.Context, session *penguinmux.Session, frame *penguinmux.DatagramFrame, log *logrus.Entry) {
	conn := u.get(frame.SourceID, string(frame.Host), frame.Port, session, log)
	if conn == nil {
		return
	}
	if _, err := conn.Write(frame.Payload); err != nil && log != nil {
		log.WithError(err).Warn("writing to udp upstream failed")
	}
}

func (u *udpUpstreams) get(sourceID uint32, host string, port uint16, session *penguinmux.Session, log *logrus.Entry) *net.UDPConn {
	u.mu.Lock()
	defer u.mu.Unlock()

	if conn, ok := u.conns[sourceID]; ok {
		return conn
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		if log != nil {
			log.WithError(err).Warnf("resolving udp destination %s:%d failed", host, port)
		}
		return nil
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		if log != nil {
			log.WithError(err).Warnf("dialing udp destination %s:%d failed", host, port)
		}
		return nil
	}
	u.conns[sourceID] = conn

	go func() {
		defer func() {
			u.mu.Lock()
			delete(u.conns, sourceID)
			u.mu.Unlock()
			conn.Close()
		}()

		buf := make([]byte, 64*1024)
		conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			payload := append([]byte(nil), buf[:n]...)
			if err := session.SendDatagram(ctx, host, port, sourceID, payload); err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		}
	}()

	return conn
}
