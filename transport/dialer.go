package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/penguin-tunnel/penguin/mux"
)

// ConnectorConfig builds a client Dialer out of the flags accepted by the
// penguin CLI. It mirrors the shape of a TLS-aware HTTP client builder:
// certificate material, SNI override, a pre-shared key, extra headers and
// an optional upstream proxy (HTTP CONNECT or SOCKS5 via
// golang.org/x/net/proxy).
type ConnectorConfig struct {
	URL                string
	CACertFile         string
	ClientCertFile     string
	ClientKeyFile      string
	InsecureSkipVerify bool
	ServerName         string
	ExtraHeaders       map[string]string
	PSK                string
	ProxyURL           string
	HandshakeTimeout   time.Duration
}

// Build resolves the configuration into a Dialer capable of producing a
// mux.Transport. Build validates and loads certificate material eagerly so
// configuration mistakes surface before the first dial attempt.
func (c *ConnectorConfig) Build() (*Dialer, error) {
	tlsConfig, err := c.buildTLSConfig()
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: c.handshakeTimeout(),
		Subprotocols:     []string{ProtocolVersion},
	}

	return &Dialer{cfg: c, wsDialer: dialer}, nil
}

func (c *ConnectorConfig) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return 10 * time.Second
}

func (c *ConnectorConfig) buildTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify}
	if c.ServerName != "" {
		cfg.ServerName = c.ServerName
	}

	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("transport: reading CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certificates parsed from %s", c.CACertFile)
		}
		cfg.RootCAs = pool
	}

	if c.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Dialer produces client-side mux.Transport instances.
type Dialer struct {
	cfg      *ConnectorConfig
	wsDialer *websocket.Dialer
}

// Dial performs the WebSocket upgrade handshake and returns a ready
// mux.Transport. It sets the PSK header and any extra headers configured on
// ConnectorConfig, and an HTTP CONNECT-capable proxy via the dialer's Proxy
// field when ConnectorConfig.ProxyURL uses an http/https scheme.
func Dial(ctx context.Context, cfg *ConnectorConfig) (mux.Transport, error) {
	dialer, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return dialer.Dial(ctx)
}

// Dial opens the connection described by the Dialer's configuration.
func (d *Dialer) Dial(ctx context.Context) (mux.Transport, error) {
	header := http.Header{}
	if d.cfg.PSK != "" {
		header.Set(PSKHeader, d.cfg.PSK)
	}
	for k, v := range d.cfg.ExtraHeaders {
		header.Set(k, v)
	}

	if d.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(d.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("transport: parsing proxy url: %w", err)
		}
		switch proxyURL.Scheme {
		case "http", "https":
			d.wsDialer.Proxy = http.ProxyURL(proxyURL)
		case "socks5", "socks5h":
			forward, err := proxy.FromURL(proxyURL, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("transport: building socks5 dialer: %w", err)
			}
			d.wsDialer.NetDial = forward.Dial
		default:
			return nil, fmt.Errorf("transport: unsupported proxy scheme %q", proxyURL.Scheme)
		}
	}

	conn, resp, err := d.wsDialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %s)", d.cfg.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", d.cfg.URL, err)
	}

	return NewWebSocketTransport(conn), nil
}
