package protocol

import (
	"fmt"

	"github.com/overlaymesh/core/internal/identity"
)

// Message is a decoded Header plus its typed body. Exactly one of the
// RelayBody/ClientPathBody/AgentInfoBody fields is populated,
// according to Header.MessageType.
type Message struct {
	Header     Header
	Relay      *RelayBody
	ClientPath *ClientPathBody
	AgentInfo  *AgentInfoBody
}

// RelayBody carries an opaque application payload along a source
// route: Origin is who created it, Path is the remaining hops
// (front-stripped by each forwarder), and Payload is opaque bytes.
type RelayBody struct {
	Origin  identity.Identity
	Path    []identity.Identity
	Payload []byte
}

// ClientPathBody announces or withdraws a path to ClientPath's last
// entry. Register distinguishes the two.
type ClientPathBody struct {
	ClientPath []identity.Identity
	Register   bool
}

// AgentInfoBody carries a versioned opaque metadata record for
// ClientIdentity.
type AgentInfoBody struct {
	ClientIdentity identity.Identity
	Version        uint64
	Payload        []byte
}

// Encode serializes a full message (header + body) to bytes, ready to
// hand to a transport.Guard.Send after RSA chunk-encryption.
func Encode(m Message) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = encodeHeader(buf, m.Header)

	switch m.Header.MessageType {
	case MessageRelay:
		if m.Relay == nil {
			return nil, fmt.Errorf("encode: MessageRelay header with nil RelayBody")
		}
		buf = encodeRelayBody(buf, *m.Relay)
	case MessageClientPath:
		if m.ClientPath == nil {
			return nil, fmt.Errorf("encode: MessageClientPath header with nil ClientPathBody")
		}
		buf = encodeClientPathBody(buf, *m.ClientPath)
	case MessageAgentInformation:
		if m.AgentInfo == nil {
			return nil, fmt.Errorf("encode: MessageAgentInformation header with nil AgentInfoBody")
		}
		buf = encodeAgentInfoBody(buf, *m.AgentInfo)
	default:
		return nil, fmt.Errorf("encode: unknown message type %d", m.Header.MessageType)
	}
	return buf, nil
}

// Decode parses a full message from bytes. Any malformed encoding
// returns an error; callers (the reactor's receive-dispatch step) must
// treat this as a WireFormat error and close the originating link.
func Decode(data []byte) (Message, error) {
	header, rest, err := decodeHeader(data)
	if err != nil {
		return Message{}, fmt.Errorf("decode header: %w", err)
	}

	m := Message{Header: header}
	switch header.MessageType {
	case MessageRelay:
		body, err := decodeRelayBody(rest)
		if err != nil {
			return Message{}, fmt.Errorf("decode relay body: %w", err)
		}
		m.Relay = &body
	case MessageClientPath:
		body, err := decodeClientPathBody(rest)
		if err != nil {
			return Message{}, fmt.Errorf("decode client path body: %w", err)
		}
		m.ClientPath = &body
	case MessageAgentInformation:
		body, err := decodeAgentInfoBody(rest)
		if err != nil {
			return Message{}, fmt.Errorf("decode agent info body: %w", err)
		}
		m.AgentInfo = &body
	default:
		return Message{}, fmt.Errorf("decode: unknown message type %d", header.MessageType)
	}
	return m, nil
}

func appendIdentity(buf []byte, id identity.Identity) []byte {
	return appendString(buf, id.String())
}

func readIdentity(data []byte) (identity.Identity, []byte, error) {
	s, rest, err := readString(data)
	if err != nil {
		return identity.ZeroIdentity, nil, err
	}
	id, err := identity.Parse(s)
	if err != nil {
		return identity.ZeroIdentity, nil, err
	}
	return id, rest, nil
}

func appendIdentityPath(buf []byte, path []identity.Identity) []byte {
	buf = appendUint64(buf, uint64(len(path)))
	for _, id := range path {
		buf = appendIdentity(buf, id)
	}
	return buf
}

func readIdentityPath(data []byte) ([]identity.Identity, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("short path length prefix")
	}
	count, rest := readUint64(data)
	// Every entry needs at least its 8-byte length prefix.
	if count > uint64(len(rest))/8 {
		return nil, nil, fmt.Errorf("path count %d exceeds remaining %d bytes", count, len(rest))
	}
	path := make([]identity.Identity, 0, count)
	for i := uint64(0); i < count; i++ {
		var (
			id  identity.Identity
			err error
		)
		id, rest, err = readIdentity(rest)
		if err != nil {
			return nil, nil, fmt.Errorf("path entry %d: %w", i, err)
		}
		path = append(path, id)
	}
	return path, rest, nil
}

func encodeRelayBody(buf []byte, b RelayBody) []byte {
	buf = appendIdentity(buf, b.Origin)
	buf = appendIdentityPath(buf, b.Path)
	buf = appendBytes(buf, b.Payload)
	return buf
}

func decodeRelayBody(data []byte) (RelayBody, error) {
	origin, rest, err := readIdentity(data)
	if err != nil {
		return RelayBody{}, fmt.Errorf("origin: %w", err)
	}
	path, rest, err := readIdentityPath(rest)
	if err != nil {
		return RelayBody{}, fmt.Errorf("path: %w", err)
	}
	payload, _, err := readBytes(rest)
	if err != nil {
		return RelayBody{}, fmt.Errorf("payload: %w", err)
	}
	return RelayBody{Origin: origin, Path: path, Payload: payload}, nil
}

func encodeClientPathBody(buf []byte, b ClientPathBody) []byte {
	buf = appendIdentityPath(buf, b.ClientPath)
	if b.Register {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeClientPathBody(data []byte) (ClientPathBody, error) {
	path, rest, err := readIdentityPath(data)
	if err != nil {
		return ClientPathBody{}, fmt.Errorf("client path: %w", err)
	}
	if len(rest) < 1 {
		return ClientPathBody{}, fmt.Errorf("missing register flag")
	}
	return ClientPathBody{ClientPath: path, Register: rest[0] != 0}, nil
}

func encodeAgentInfoBody(buf []byte, b AgentInfoBody) []byte {
	buf = appendIdentity(buf, b.ClientIdentity)
	buf = appendUint64(buf, b.Version)
	buf = appendBytes(buf, b.Payload)
	return buf
}

func decodeAgentInfoBody(data []byte) (AgentInfoBody, error) {
	id, rest, err := readIdentity(data)
	if err != nil {
		return AgentInfoBody{}, fmt.Errorf("client identity: %w", err)
	}
	if len(rest) < 8 {
		return AgentInfoBody{}, fmt.Errorf("short version field")
	}
	version, rest := readUint64(rest)
	payload, _, err := readBytes(rest)
	if err != nil {
		return AgentInfoBody{}, fmt.Errorf("payload: %w", err)
	}
	return AgentInfoBody{ClientIdentity: id, Version: version, Payload: payload}, nil
}
