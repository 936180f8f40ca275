package link

import (
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/security"
	"github.com/overlaymesh/core/internal/transport"
)

func mirroredLinks(t *testing.T) (a, b *AuthenticatedLink) {
	t.Helper()

	aKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}
	bKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}

	seedA := make([]byte, security.TokenSize)
	seedB := make([]byte, security.TokenSize)
	if _, err := rand.Read(seedA); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	if _, err := rand.Read(seedB); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}

	connA, connB := net.Pipe()

	ctxA := security.NewContext(aKP.PrivateKey, seedB, &bKP.PrivateKey.PublicKey, seedA, bKP.Identity)
	ctxB := security.NewContext(bKP.PrivateKey, seedA, &aKP.PrivateKey.PublicKey, seedB, aKP.Identity)

	a = New(&transport.Info{Guard: transport.NewGuard(connA), Inbound: false}, ctxA)
	b = New(&transport.Info{Guard: transport.NewGuard(connB), Inbound: true}, ctxB)
	return a, b
}

func TestAuthenticatedLink_SendReceive(t *testing.T) {
	a, b := mirroredLinks(t)

	msg := protocol.Message{
		Header: protocol.Header{MessageType: protocol.MessageAgentInformation},
		AgentInfo: &protocol.AgentInfoBody{
			ClientIdentity: a.Context.RemoteIdentity,
			Version:        1,
			Payload:        []byte("hi"),
		},
	}

	done := make(chan error, 1)
	go func() { done <- a.Send(msg) }()

	received, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if received.AgentInfo == nil || received.AgentInfo.Version != 1 {
		t.Errorf("Receive() = %+v, want AgentInfo version 1", received)
	}
}

func TestAuthenticatedLink_Removable(t *testing.T) {
	a, _ := mirroredLinks(t)

	if a.Removable() {
		t.Error("Removable() = true while still connected")
	}

	a.BeginSend()
	a.Close()
	if a.Removable() {
		t.Error("Removable() = true with a send dispatch still in flight")
	}
	a.EndSend()
	if !a.Removable() {
		t.Error("Removable() = false after close and drained dispatches")
	}
}

func TestAuthenticatedLink_IdleTime(t *testing.T) {
	a, _ := mirroredLinks(t)

	if a.IdleTime() > time.Second {
		t.Errorf("IdleTime() = %v immediately after creation, want near zero", a.IdleTime())
	}
}
