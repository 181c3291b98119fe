// Package adapter bridges local I/O (TCP listeners, UDP sockets, stdio, a
// SOCKS5 server) to mux streams and datagrams on an established Session.
package adapter

import (
	"context"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/penguin-tunnel/penguin/mux"
)

// StreamOpener is the subset of *mux.Session a TCP/SOCKS5 adapter needs on
// the client side.
type StreamOpener interface {
	OpenStream(ctx context.Context, host string, port uint16) (*mux.Stream, error)
}

// TCPListener accepts local TCP connections and pairs each with a new mux
// stream to (remoteHost, remotePort).
type TCPListener struct {
	Opener     StreamOpener
	RemoteHost string
	RemotePort uint16
	Log        *logrus.Entry
}

// Serve runs the accept loop until the listener is closed or ctx is
// cancelled. It never returns a non-nil error on ordinary shutdown.
func (l *TCPListener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go l.handle(ctx, conn)
	}
}

func (l *TCPListener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stream, err := l.Opener.OpenStream(ctx, l.RemoteHost, l.RemotePort)
	if err != nil {
		l.logf(logrus.WarnLevel, "open stream to %s:%d failed: %v", l.RemoteHost, l.RemotePort, err)
		return
	}
	defer stream.Close()

	SpliceStream(ctx, conn, stream, l.Log)
}

func (l *TCPListener) logf(level logrus.Level, format string, args ...interface{}) {
	if l.Log == nil {
		return
	}
	l.Log.Logf(level, format, args...)
}

// SpliceStream pumps bytes in both directions between a local net.Conn and
// a mux.Stream until either side reaches EOF, then half-closes the other
// side so an orderly close on one leg propagates to the other.
func SpliceStream(ctx context.Context, conn net.Conn, stream *mux.Stream, log *logrus.Entry) {
	done := make(chan struct{}, 2)

	go func() {
		_, _ = io.Copy(stream, conn)
		_ = stream.CloseWrite()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, stream)
		if tcp, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = tcp.CloseWrite()
		}
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	<-done
}
