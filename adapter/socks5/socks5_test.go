package socks5

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penguin-tunnel/penguin/mux"
)

type fakeOpener struct {
	host string
	port uint16
}

func (f *fakeOpener) OpenStream(ctx context.Context, host string, port uint16) (*mux.Stream, error) {
	f.host = host
	f.port = port
	a, _ := mux.NewPipe()
	client := mux.NewSession(a, mux.RoleClient)
	return client.OpenStream(ctx, "", 0)
}

func TestNegotiateParsesDomainConnect(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := &Server{}

	go func() {
		clientConn.Write([]byte{version5, 1, methodNoAuth})
		method := make([]byte, 2)
		clientConn.Read(method)

		req := []byte{version5, cmdConnect, 0x00, atypDomain}
		req = append(req, byte(len("example.com")))
		req = append(req, []byte("example.com")...)
		req = append(req, 0x00, 80)
		clientConn.Write(req)
	}()

	done := make(chan struct{})
	var gotHost string
	var gotPort uint16
	var negErr error
	go func() {
		gotHost, gotPort, negErr = srv.negotiate(serverConn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("negotiate did not complete")
	}

	require.NoError(t, negErr)
	assert.Equal(t, "example.com", gotHost)
	assert.Equal(t, uint16(80), gotPort)
}

func TestNegotiateRejectsBadVersion(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := &Server{}
	go clientConn.Write([]byte{0x04, 1, methodNoAuth})

	_, _, err := srv.negotiate(serverConn)
	assert.ErrorIs(t, err, ErrVersion)
}
