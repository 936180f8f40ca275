// Package protocol implements the wire codec: a typed header followed
// by one of three body variants, all encoded with explicit
// little-endian integers and length-prefixed sequences.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// MessageType tags which body variant follows a Header.
type MessageType uint8

const (
	MessageRelay           MessageType = 1
	MessageClientPath      MessageType = 2
	MessageAgentInformation MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MessageRelay:
		return "Relay"
	case MessageClientPath:
		return "ClientPath"
	case MessageAgentInformation:
		return "AgentInformation"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Version is the three-part runtime version carried by every header.
// A rebroadcaster overwrites this field with its own version before
// forwarding.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// Header precedes every message body on the wire.
type Header struct {
	MessageType MessageType
	Version     Version
	DiscourseID uint64
}

const headerSize = 1 + 4 + 4 + 4 + 8

func encodeHeader(buf []byte, h Header) []byte {
	buf = append(buf, byte(h.MessageType))
	buf = appendUint32(buf, h.Version.Major)
	buf = appendUint32(buf, h.Version.Minor)
	buf = appendUint32(buf, h.Version.Patch)
	buf = appendUint64(buf, h.DiscourseID)
	return buf
}

func decodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < headerSize {
		return Header{}, nil, fmt.Errorf("short header: have %d bytes, need %d", len(data), headerSize)
	}
	h := Header{
		MessageType: MessageType(data[0]),
	}
	rest := data[1:]
	h.Version.Major, rest = readUint32(rest)
	h.Version.Minor, rest = readUint32(rest)
	h.Version.Patch, rest = readUint32(rest)
	h.DiscourseID, rest = readUint64(rest)
	return h, rest, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(data []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(data[:4]), data[4:]
}

func readUint64(data []byte) (uint64, []byte) {
	return binary.LittleEndian.Uint64(data[:8]), data[8:]
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 8 {
		return "", nil, fmt.Errorf("short string length prefix")
	}
	n, rest := readUint64(data)
	if uint64(len(rest)) < n {
		return "", nil, fmt.Errorf("string length %d exceeds remaining %d bytes", n, len(rest))
	}
	return string(rest[:n]), rest[n:], nil
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

func readBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("short bytes length prefix")
	}
	n, rest := readUint64(data)
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("bytes length %d exceeds remaining %d bytes", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}
