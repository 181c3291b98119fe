package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalSpecTCP(t *testing.T) {
	s, err := ParseLocalSpec("tcp://127.0.0.1:1080=example.com:22")
	require.NoError(t, err)
	assert.Equal(t, ProtocolTCP, s.Protocol)
	assert.Equal(t, "127.0.0.1:1080", s.ListenAddr)
	assert.Equal(t, "example.com", s.RemoteHost)
	assert.Equal(t, uint16(22), s.RemotePort)
}

func TestParseLocalSpecUDP(t *testing.T) {
	s, err := ParseLocalSpec("udp://127.0.0.1:5353=1.1.1.1:53")
	require.NoError(t, err)
	assert.Equal(t, ProtocolUDP, s.Protocol)
	assert.Equal(t, uint16(53), s.RemotePort)
}

func TestParseLocalSpecSocks5(t *testing.T) {
	s, err := ParseLocalSpec("socks5://127.0.0.1:1080")
	require.NoError(t, err)
	assert.Equal(t, ProtocolSocks5, s.Protocol)
	assert.Equal(t, "127.0.0.1:1080", s.ListenAddr)
	assert.Empty(t, s.RemoteHost)
}

func TestParseLocalSpecStdio(t *testing.T) {
	s, err := ParseLocalSpec("stdio=example.com:22")
	require.NoError(t, err)
	assert.Equal(t, ProtocolStdio, s.Protocol)
	assert.Equal(t, "example.com", s.RemoteHost)
	assert.Equal(t, uint16(22), s.RemotePort)
}

func TestParseLocalSpecRejectsMissingRemote(t *testing.T) {
	_, err := ParseLocalSpec("tcp://127.0.0.1:1080")
	assert.Error(t, err)
}

func TestParseLocalSpecRejectsUnknownProtocol(t *testing.T) {
	_, err := ParseLocalSpec("ftp://127.0.0.1:21=example.com:21")
	assert.Error(t, err)
}

func TestParseLocalSpecRejectsBadPort(t *testing.T) {
	_, err := ParseLocalSpec("tcp://127.0.0.1:1080=example.com:notaport")
	assert.Error(t, err)
}

func TestLocalSpecStringRoundTrip(t *testing.T) {
	s, err := ParseLocalSpec("tcp://127.0.0.1:1080=example.com:22")
	require.NoError(t, err)
	assert.Equal(t, "tcp://127.0.0.1:1080=example.com:22", s.String())
}
