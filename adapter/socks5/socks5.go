// Package socks5 implements a minimal SOCKS5 server: version negotiation
// with NOAUTH only, and the CONNECT command only. This is hand-rolled
// against RFC 1928 rather than built on a third-party SOCKS library: no
// repo in the reference corpus vendors a SOCKS5 *server* (golang.org/x/net/proxy
// only provides a client-side dialer, used by the transport package's
// upstream-proxy support), so there is nothing to adapt here.
package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/penguin-tunnel/penguin/adapter"
)

const (
	version5         = 0x05
	methodNoAuth     = 0x00
	methodNoneUsable = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repCommandNotSupported = 0x07
	repAddressNotSupported = 0x08
)

var (
	ErrVersion        = errors.New("socks5: unsupported protocol version")
	ErrNoUsableMethod = errors.New("socks5: client offered no usable auth method")
	ErrCommand        = errors.New("socks5: unsupported command")
	ErrAddressType    = errors.New("socks5: unsupported address type")
)

// Server accepts local TCP connections speaking SOCKS5 and, for each
// successfully negotiated CONNECT request, opens a mux stream to the
// requested (host, port).
type Server struct {
	Opener adapter.StreamOpener
	Log    *logrus.Entry
}

// Serve runs the accept loop until ln is closed or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
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
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	host, port, err := s.negotiate(conn)
	if err != nil {
		s.logf("socks5 negotiation with %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	stream, err := s.Opener.OpenStream(ctx, host, port)
	if err != nil {
		writeReply(conn, repGeneralFailure)
		s.logf("socks5 open stream to %s:%d failed: %v", host, port, err)
		return
	}
	defer stream.Close()

	if err := writeReply(conn, repSucceeded); err != nil {
		return
	}

	adapter.SpliceStream(ctx, conn, stream, s.Log)
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log.Warnf(format, args...)
	}
}

// negotiate performs the SOCKS5 method-selection and CONNECT request
// exchange, and returns the requested destination on success. It leaves
// conn positioned exactly where the caller should begin splicing payload
// bytes (the reply has not yet been written; writeReply is the caller's
// responsibility so it can run after the upstream stream opens).
func (s *Server) negotiate(conn net.Conn) (string, uint16, error) {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return "", 0, fmt.Errorf("reading greeting: %w", err)
	}
	if hdr[0] != version5 {
		return "", 0, ErrVersion
	}
	nmethods := int(hdr[1])
	methods := make([]byte, nmethods)
	if _, err := io.ReadFull(conn, methods); err != nil {
		return "", 0, fmt.Errorf("reading auth methods: %w", err)
	}

	usable := false
	for _, m := range methods {
		if m == methodNoAuth {
			usable = true
		}
	}
	if !usable {
		conn.Write([]byte{version5, methodNoneUsable})
		return "", 0, ErrNoUsableMethod
	}
	if _, err := conn.Write([]byte{version5, methodNoAuth}); err != nil {
		return "", 0, fmt.Errorf("writing method selection: %w", err)
	}

	reqHdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, reqHdr); err != nil {
		return "", 0, fmt.Errorf("reading request header: %w", err)
	}
	if reqHdr[0] != version5 {
		return "", 0, ErrVersion
	}
	if reqHdr[1] != cmdConnect {
		writeReply(conn, repCommandNotSupported)
		return "", 0, ErrCommand
	}

	host, err := readAddress(conn, reqHdr[3])
	if err != nil {
		writeReply(conn, repAddressNotSupported)
		return "", 0, err
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", 0, fmt.Errorf("reading port: %w", err)
	}
	return host, binary.BigEndian.Uint16(portBuf), nil
}

func readAddress(conn net.Conn, atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		return net.IP(buf).String(), nil
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		return net.IP(buf).String(), nil
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return "", err
		}
		buf := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	default:
		return "", ErrAddressType
	}
}

// writeReply sends a minimal SOCKS5 reply: the bound address is always
// 0.0.0.0:0 since the tunnel does not expose a routable local bind address
// for the remote side of the stream.
func writeReply(conn net.Conn, rep byte) error {
	reply := []byte{version5, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return err
}
