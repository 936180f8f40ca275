package auth

import (
	"net"
	"testing"
	"time"

	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/transport"
)

func pipeInfos(t *testing.T) (dialerInfo, acceptorInfo *transport.Info) {
	t.Helper()
	dialerConn, acceptorConn := net.Pipe()
	dialerInfo = &transport.Info{Guard: transport.NewGuard(dialerConn), Inbound: false}
	acceptorInfo = &transport.Info{Guard: transport.NewGuard(acceptorConn), Inbound: true}
	return dialerInfo, acceptorInfo
}

func TestAttempt_MutualSuccess(t *testing.T) {
	dialerKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() dialer error = %v", err)
	}
	acceptorKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() acceptor error = %v", err)
	}

	dialerInfo, acceptorInfo := pipeInfos(t)

	dialerAttempt := NewAttempt(dialerInfo, dialerKP, false, 0)
	acceptorAttempt := NewAttempt(acceptorInfo, acceptorKP, false, 0)

	dialerResult := make(chan Result, 1)
	acceptorResult := make(chan Result, 1)

	go func() { dialerResult <- dialerAttempt.Run() }()
	go func() { acceptorResult <- acceptorAttempt.Run() }()

	var dr, ar Result
	select {
	case dr = <-dialerResult:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dialer result")
	}
	select {
	case ar = <-acceptorResult:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for acceptor result")
	}

	if !dr.Success {
		t.Fatalf("dialer attempt failed: %v", dr.Err)
	}
	if !ar.Success {
		t.Fatalf("acceptor attempt failed: %v", ar.Err)
	}

	if !dr.Context.RemoteIdentity.Equal(acceptorKP.Identity) {
		t.Error("dialer did not learn the acceptor's identity")
	}
	if !ar.Context.RemoteIdentity.Equal(dialerKP.Identity) {
		t.Error("acceptor did not learn the dialer's identity")
	}

	// Seal a frame from dialer to acceptor and confirm token views match.
	ciphertext, token, err := dr.Context.SealOutbound([]byte("ping"))
	if err != nil {
		t.Fatalf("SealOutbound() error = %v", err)
	}
	plaintext, err := ar.Context.OpenInbound(ciphertext, token)
	if err != nil {
		t.Fatalf("OpenInbound() error = %v", err)
	}
	if string(plaintext) != "ping" {
		t.Errorf("OpenInbound() = %q, want ping", plaintext)
	}
}

func TestAttempt_Expired(t *testing.T) {
	dialerKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}

	dialerInfo, _ := pipeInfos(t)
	attempt := NewAttempt(dialerInfo, dialerKP, true, 0)

	time.Sleep(time.Millisecond)
	if !attempt.Expired() {
		t.Error("Expired() = false with a zero timeout after elapsed time")
	}
}

func TestAttempt_DisabledTimeoutNeverExpires(t *testing.T) {
	dialerKP, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}

	dialerInfo, _ := pipeInfos(t)
	attempt := NewAttempt(dialerInfo, dialerKP, false, 0)

	if attempt.Expired() {
		t.Error("Expired() = true with timeout disabled")
	}
}
