package mux

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionPair(t *testing.T, opts ...Option) (client, server *Session) {
	t.Helper()
	a, b := NewPipe()
	client = NewSession(a, RoleClient, opts...)
	server = NewSession(b, RoleServer, opts...)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func withDeadline(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Scenario 1: Connect succeeds.
func TestConnectSucceeds(t *testing.T) {
	client, server := newSessionPair(t)
	ctx := withDeadline(t)

	clientDone := make(chan *Stream, 1)
	go func() {
		s, err := client.OpenStream(ctx, "", 0)
		require.NoError(t, err)
		clientDone <- s
	}()

	serverStream, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	clientStream := <-clientDone
	assert.Equal(t, clientStream.OurPort(), serverStream.TheirPort())
	assert.Equal(t, serverStream.OurPort(), clientStream.TheirPort())
}

// Scenario 2: Drop sends Rst.
func TestDropSendsRst(t *testing.T) {
	client, server := newSessionPair(t)
	ctx := withDeadline(t)

	clientDone := make(chan *Stream, 1)
	go func() {
		s, err := client.OpenStream(ctx, "", 0)
		require.NoError(t, err)
		clientDone <- s
	}()
	serverStream, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	clientStream := <-clientDone

	_, err = clientStream.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := serverStream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, clientStream.Close())

	// The server stream observes EOF on read and a write failure, once the
	// Rst has propagated.
	require.Eventually(t, func() bool {
		_, err := serverStream.Write([]byte("x"))
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = serverStream.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

// Scenario 3: Orderly close.
func TestOrderlyClose(t *testing.T) {
	client, server := newSessionPair(t)
	ctx := withDeadline(t)

	clientDone := make(chan *Stream, 1)
	go func() {
		s, err := client.OpenStream(ctx, "", 0)
		require.NoError(t, err)
		clientDone <- s
	}()
	serverStream, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	clientStream := <-clientDone

	require.NoError(t, clientStream.CloseWrite())

	buf := make([]byte, 16)
	n, err := serverStream.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	// The server's write half is unaffected by the peer's Fin.
	_, err = serverStream.Write([]byte("bye"))
	require.NoError(t, err)

	n, err = clientStream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:n]))

	require.NoError(t, clientStream.Close())
	require.Eventually(t, func() bool {
		_, err := serverStream.Write([]byte("x"))
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

// Scenario 4: Protocol violation.
func TestClientReceivingSynIsProtocolError(t *testing.T) {
	a, b := NewPipe()
	client := NewSession(a, RoleClient)
	defer client.Close()

	// b plays a misbehaving server that sends a Syn to the client.
	payload, err := EncodeSynPayload("evil.example", 80)
	require.NoError(t, err)
	frame, err := EncodeFrame(&StreamFrame{SourcePort: 1, Flag: FlagSyn, Payload: payload})
	require.NoError(t, err)
	require.NoError(t, b.SendBinary(context.Background(), frame))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not shut down after receiving an illegal Syn")
	}
	assert.ErrorIs(t, client.Err(), ErrClientReceivedSyn)
}

// Scenario 5: Backpressure.
func TestBackpressureSuspendsDemultiplexLoop(t *testing.T) {
	client, server := newSessionPair(t, WithStreamFrameBufferSize(4))
	ctx := withDeadline(t)

	clientDone := make(chan *Stream, 1)
	go func() {
		s, err := client.OpenStream(ctx, "", 0)
		require.NoError(t, err)
		clientDone <- s
	}()
	serverStream, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	clientStream := <-clientDone

	// The queue holds exactly 4; the 5th Psh the server receives is the one
	// that suspends its demultiplex loop until the stalled reader drains.
	for i := 0; i < 5; i++ {
		_, err := clientStream.Write([]byte{byte(i)})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)

	buf := make([]byte, 1)
	for i := 0; i < 5; i++ {
		n, err := serverStream.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, byte(i), buf[0])
		assert.Equal(t, 1, n)
	}
}

// Regression: closing a session while an OpenStream is in flight (Syn sent,
// Ack never arrives) must not deadlock shutdown on the pending port's
// placeholder entry.
func TestCloseDuringPendingOpenStreamDoesNotDeadlock(t *testing.T) {
	a, _ := NewPipe() // peer never Acks anything
	client := NewSession(a, RoleClient)

	ctx := withDeadline(t)
	go func() {
		_, _ = client.OpenStream(ctx, "stall.example", 80)
	}()

	// Give OpenStream time to reserve its pending port and send the Syn.
	time.Sleep(20 * time.Millisecond)

	closeDone := make(chan struct{})
	go func() {
		client.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked with a pending OpenStream in flight")
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never reached Done after Close")
	}
}

// Scenario 6: Datagram round-trip.
func TestDatagramRoundTrip(t *testing.T) {
	client, server := newSessionPair(t)
	ctx := withDeadline(t)

	payload := []byte("dns query")
	require.NoError(t, client.SendDatagram(ctx, "127.0.0.1", 53, 7, payload))

	got, err := server.RecvDatagram(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", string(got.Host))
	assert.Equal(t, uint16(53), got.Port)
	assert.Equal(t, uint32(7), got.SourceID)
	assert.Equal(t, payload, got.Payload)
}

func TestKeepAliveDisabledNeverPings(t *testing.T) {
	a, b := NewPipe()
	client := NewSession(a, RoleClient) // KeepAliveInterval defaults to zero
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEOFIsStickyAfterFin(t *testing.T) {
	client, server := newSessionPair(t)
	ctx := withDeadline(t)

	clientDone := make(chan *Stream, 1)
	go func() {
		s, err := client.OpenStream(ctx, "", 0)
		require.NoError(t, err)
		clientDone <- s
	}()
	serverStream, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	clientStream := <-clientDone

	require.NoError(t, clientStream.CloseWrite())

	buf := make([]byte, 4)
	_, err = serverStream.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	_, err = serverStream.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
