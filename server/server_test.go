package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	penguinmux "github.com/penguin-tunnel/penguin/mux"
	"github.com/penguin-tunnel/penguin/transport"
)

func TestHealthAndVersionEndpoints(t *testing.T) {
	srv := New(Config{PSK: "k"}, func(context.Context, *penguinmux.Session) {})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/version")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestObfuscateModeHidesEndpoints(t *testing.T) {
	srv := New(Config{PSK: "k", ObfuscateMode: true}, func(context.Context, *penguinmux.Session) {})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUpgradeDispatchesToHandler(t *testing.T) {
	handlerCalled := make(chan struct{})
	srv := New(Config{PSK: "k"}, func(ctx context.Context, session *penguinmux.Session) {
		close(handlerCalled)
		<-session.Done()
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	client, err := transport.Dial(context.Background(), &transport.ConnectorConfig{
		URL:              wsURL,
		PSK:              "k",
		HandshakeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-handlerCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestUpgradeRejectedWithWrongPSKReturns404(t *testing.T) {
	srv := New(Config{PSK: "k"}, func(context.Context, *penguinmux.Session) {})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Sec-WebSocket-Protocol", transport.ProtocolVersion)
	req.Header.Set(transport.PSKHeader, "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
