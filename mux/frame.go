package mux

import (
	"encoding/binary"
	"fmt"
)

// Wire tags for the leading octet that discriminates the two frame kinds.
const (
	tagStream   byte = 0x01
	tagDatagram byte = 0x02
)

// Flag is the one-octet control code carried by every Stream frame.
type Flag byte

// Flag codes, fixed by the wire format.
const (
	FlagSyn Flag = 0x00
	FlagAck Flag = 0x01
	FlagRst Flag = 0x02
	FlagFin Flag = 0x03
	FlagPsh Flag = 0x04
)

func (f Flag) String() string {
	switch f {
	case FlagSyn:
		return "SYN"
	case FlagAck:
		return "ACK"
	case FlagRst:
		return "RST"
	case FlagFin:
		return "FIN"
	case FlagPsh:
		return "PSH"
	default:
		return fmt.Sprintf("FLAG(%#02x)", byte(f))
	}
}

// maxHostLength is the limit on a SYN handshake host and on a datagram
// frame's host, both encoded as a one-octet length prefix.
const maxHostLength = 255

// Frame is the discriminated union decoded from one binary transport
// message. It is implemented by *StreamFrame and *DatagramFrame.
type Frame interface {
	frameTag() byte
}

// StreamFrame carries SYN/ACK/RST/FIN/PSH control and data for one virtual
// port pair.
type StreamFrame struct {
	SourcePort      uint16
	DestinationPort uint16
	Flag            Flag
	Payload         []byte
}

func (*StreamFrame) frameTag() byte { return tagStream }

// DatagramFrame carries one UDP datagram end to end. SourceID lets the
// receiving end demultiplex replies back to the originating local socket.
type DatagramFrame struct {
	Host     []byte
	Port     uint16
	SourceID uint32
	Payload  []byte
}

func (*DatagramFrame) frameTag() byte { return tagDatagram }

const (
	streamHeaderSize   = 1 + 2 + 2 + 1 // tag, src, dst, flag
	datagramHeaderSize = 1 + 1 + 2 + 4 // tag, hlen, port, source_id
)

// EncodeFrame serialises f as a binary transport message.
func EncodeFrame(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case *StreamFrame:
		buf := make([]byte, streamHeaderSize+len(v.Payload))
		buf[0] = tagStream
		binary.BigEndian.PutUint16(buf[1:3], v.SourcePort)
		binary.BigEndian.PutUint16(buf[3:5], v.DestinationPort)
		buf[5] = byte(v.Flag)
		copy(buf[streamHeaderSize:], v.Payload)
		return buf, nil
	case *DatagramFrame:
		if len(v.Host) > maxHostLength {
			return nil, ErrRHostTooLong
		}
		buf := make([]byte, datagramHeaderSize+len(v.Host)+len(v.Payload))
		buf[0] = tagDatagram
		buf[1] = byte(len(v.Host))
		n := 2
		n += copy(buf[n:], v.Host)
		binary.BigEndian.PutUint16(buf[n:n+2], v.Port)
		n += 2
		binary.BigEndian.PutUint32(buf[n:n+4], v.SourceID)
		n += 4
		copy(buf[n:], v.Payload)
		return buf, nil
	default:
		return nil, fmt.Errorf("mux: unknown frame type %T", f)
	}
}

// DecodeFrame parses one binary transport message. The message boundary is
// authoritative: payload length is always "rest of message".
func DecodeFrame(msg []byte) (Frame, error) {
	if len(msg) < 1 {
		return nil, ErrInvalidFrame
	}
	switch msg[0] {
	case tagStream:
		if len(msg) < streamHeaderSize {
			return nil, ErrInvalidFrame
		}
		flag := Flag(msg[5])
		switch flag {
		case FlagSyn, FlagAck, FlagRst, FlagFin, FlagPsh:
		default:
			return nil, ErrInvalidFrame
		}
		sf := &StreamFrame{
			SourcePort:      binary.BigEndian.Uint16(msg[1:3]),
			DestinationPort: binary.BigEndian.Uint16(msg[3:5]),
			Flag:            flag,
		}
		if len(msg) > streamHeaderSize {
			payload := make([]byte, len(msg)-streamHeaderSize)
			copy(payload, msg[streamHeaderSize:])
			sf.Payload = payload
		}
		return sf, nil
	case tagDatagram:
		if len(msg) < 2 {
			return nil, ErrInvalidFrame
		}
		hlen := int(msg[1])
		if len(msg) < 2+hlen+6 {
			return nil, ErrInvalidFrame
		}
		host := make([]byte, hlen)
		copy(host, msg[2:2+hlen])
		n := 2 + hlen
		port := binary.BigEndian.Uint16(msg[n : n+2])
		n += 2
		sourceID := binary.BigEndian.Uint32(msg[n : n+4])
		n += 4
		df := &DatagramFrame{Host: host, Port: port, SourceID: sourceID}
		if len(msg) > n {
			payload := make([]byte, len(msg)-n)
			copy(payload, msg[n:])
			df.Payload = payload
		}
		return df, nil
	default:
		return nil, ErrInvalidFrame
	}
}

// EncodeSynPayload builds the handshake payload carried by a Syn frame:
// one octet host length, host bytes, two octet destination port.
func EncodeSynPayload(host string, port uint16) ([]byte, error) {
	if len(host) > maxHostLength {
		return nil, ErrRHostTooLong
	}
	buf := make([]byte, 1+len(host)+2)
	buf[0] = byte(len(host))
	copy(buf[1:], host)
	binary.BigEndian.PutUint16(buf[1+len(host):], port)
	return buf, nil
}

// DecodeSynPayload parses a Syn frame's handshake payload.
func DecodeSynPayload(payload []byte) (host string, port uint16, err error) {
	if len(payload) < 1 {
		return "", 0, ErrInvalidFrame
	}
	hlen := int(payload[0])
	if len(payload) < 1+hlen+2 {
		return "", 0, ErrInvalidFrame
	}
	host = string(payload[1 : 1+hlen])
	port = binary.BigEndian.Uint16(payload[1+hlen : 3+hlen])
	return host, port, nil
}
