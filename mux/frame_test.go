package mux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFrameRoundTrip(t *testing.T) {
	f := &StreamFrame{
		SourcePort:      1234,
		DestinationPort: 5678,
		Flag:            FlagPsh,
		Payload:         []byte("hello world"),
	}
	encoded, err := EncodeFrame(f)
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)

	got, ok := decoded.(*StreamFrame)
	require.True(t, ok)
	assert.Equal(t, f.SourcePort, got.SourcePort)
	assert.Equal(t, f.DestinationPort, got.DestinationPort)
	assert.Equal(t, f.Flag, got.Flag)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestStreamFrameControlPayloadsEmpty(t *testing.T) {
	for _, flag := range []Flag{FlagAck, FlagRst, FlagFin} {
		encoded, err := EncodeFrame(&StreamFrame{SourcePort: 1, DestinationPort: 2, Flag: flag})
		require.NoError(t, err)
		decoded, err := DecodeFrame(encoded)
		require.NoError(t, err)
		got := decoded.(*StreamFrame)
		assert.Empty(t, got.Payload)
	}
}

func TestDatagramFrameRoundTrip(t *testing.T) {
	f := &DatagramFrame{
		Host:     []byte("127.0.0.1"),
		Port:     53,
		SourceID: 7,
		Payload:  []byte{0xde, 0xad, 0xbe, 0xef},
	}
	encoded, err := EncodeFrame(f)
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)

	got, ok := decoded.(*DatagramFrame)
	require.True(t, ok)
	assert.Equal(t, f.Host, got.Host)
	assert.Equal(t, f.Port, got.Port)
	assert.Equal(t, f.SourceID, got.SourceID)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestDecodeFrameRejectsUnknownTag(t *testing.T) {
	_, err := DecodeFrame([]byte{0x7f, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeFrameRejectsTruncatedHeader(t *testing.T) {
	_, err := DecodeFrame([]byte{tagStream, 0, 1})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeFrameRejectsUnknownFlag(t *testing.T) {
	msg := []byte{tagStream, 0, 1, 0, 2, 0x7f}
	_, err := DecodeFrame(msg)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeFrameRejectsHostLengthPastEnd(t *testing.T) {
	// hlen says 10 bytes of host follow but the message only has 2.
	msg := []byte{tagDatagram, 10, 'a', 'b'}
	_, err := DecodeFrame(msg)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestSynPayloadRoundTrip(t *testing.T) {
	payload, err := EncodeSynPayload("example.com", 443)
	require.NoError(t, err)

	host, port, err := DecodeSynPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, uint16(443), port)
}

func TestSynPayloadHostLengthBoundary(t *testing.T) {
	host255 := strings.Repeat("a", 255)
	_, err := EncodeSynPayload(host255, 1)
	require.NoError(t, err)

	host256 := strings.Repeat("a", 256)
	_, err = EncodeSynPayload(host256, 1)
	assert.ErrorIs(t, err, ErrRHostTooLong)
}

func TestDatagramFrameHostLengthBoundary(t *testing.T) {
	f := &DatagramFrame{Host: bytes.Repeat([]byte("a"), 256), Port: 1}
	_, err := EncodeFrame(f)
	assert.ErrorIs(t, err, ErrRHostTooLong)
}
