package protocol

import (
	"testing"

	"github.com/overlaymesh/core/internal/identity"
)

func mustIdentity(t *testing.T) identity.Identity {
	t.Helper()
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}
	return kp.Identity
}

func TestEncodeDecode_Relay(t *testing.T) {
	origin := mustIdentity(t)
	hop := mustIdentity(t)
	target := mustIdentity(t)

	msg := Message{
		Header: Header{
			MessageType: MessageRelay,
			Version:     Version{1, 2, 3},
			DiscourseID: 42,
		},
		Relay: &RelayBody{
			Origin:  origin,
			Path:    []identity.Identity{hop, target},
			Payload: []byte("hello"),
		},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Header != msg.Header {
		t.Errorf("Decode() header = %+v, want %+v", decoded.Header, msg.Header)
	}
	if decoded.Relay == nil {
		t.Fatal("Decode() Relay is nil")
	}
	if !decoded.Relay.Origin.Equal(origin) {
		t.Error("Decode() origin mismatch")
	}
	if len(decoded.Relay.Path) != 2 || !decoded.Relay.Path[0].Equal(hop) || !decoded.Relay.Path[1].Equal(target) {
		t.Errorf("Decode() path mismatch: %+v", decoded.Relay.Path)
	}
	if string(decoded.Relay.Payload) != "hello" {
		t.Errorf("Decode() payload = %q, want hello", decoded.Relay.Payload)
	}
}

func TestEncodeDecode_Relay_EmptyPath(t *testing.T) {
	origin := mustIdentity(t)

	msg := Message{
		Header: Header{MessageType: MessageRelay},
		Relay: &RelayBody{
			Origin:  origin,
			Path:    nil,
			Payload: []byte("for me"),
		},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(decoded.Relay.Path) != 0 {
		t.Errorf("Decode() path = %+v, want empty", decoded.Relay.Path)
	}
}

func TestEncodeDecode_ClientPath(t *testing.T) {
	local := mustIdentity(t)
	target := mustIdentity(t)

	for _, register := range []bool{true, false} {
		msg := Message{
			Header: Header{MessageType: MessageClientPath, DiscourseID: 7},
			ClientPath: &ClientPathBody{
				ClientPath: []identity.Identity{local, target},
				Register:   register,
			},
		}
		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if decoded.ClientPath.Register != register {
			t.Errorf("Decode() Register = %v, want %v", decoded.ClientPath.Register, register)
		}
		if len(decoded.ClientPath.ClientPath) != 2 {
			t.Errorf("Decode() path length = %d, want 2", len(decoded.ClientPath.ClientPath))
		}
	}
}

func TestEncodeDecode_AgentInformation(t *testing.T) {
	id := mustIdentity(t)

	msg := Message{
		Header: Header{MessageType: MessageAgentInformation},
		AgentInfo: &AgentInfoBody{
			ClientIdentity: id,
			Version:        9,
			Payload:        []byte("metadata"),
		},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.AgentInfo.Version != 9 {
		t.Errorf("Decode() version = %d, want 9", decoded.AgentInfo.Version)
	}
	if !decoded.AgentInfo.ClientIdentity.Equal(id) {
		t.Error("Decode() client identity mismatch")
	}
	if string(decoded.AgentInfo.Payload) != "metadata" {
		t.Errorf("Decode() payload = %q, want metadata", decoded.AgentInfo.Payload)
	}
}

func TestDecode_TruncatedHeaderFails(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Decode() of truncated header expected error, got nil")
	}
}

func TestDecode_UnknownMessageTypeFails(t *testing.T) {
	msg := Message{
		Header: Header{MessageType: MessageRelay},
		Relay:  &RelayBody{Origin: mustIdentity(t)},
	}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	encoded[0] = 99

	if _, err := Decode(encoded); err == nil {
		t.Error("Decode() of unknown message type expected error, got nil")
	}
}

func TestDecode_MissingBodyFails(t *testing.T) {
	header := Header{MessageType: MessageClientPath}
	var buf []byte
	buf = encodeHeader(buf, header)
	// no body bytes follow

	if _, err := Decode(buf); err == nil {
		t.Error("Decode() of missing body expected error, got nil")
	}
}
