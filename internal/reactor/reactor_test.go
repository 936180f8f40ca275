package reactor

import (
	"testing"
	"time"

	"github.com/overlaymesh/core/internal/config"
	"github.com/overlaymesh/core/internal/identity"
)

func mustKeys(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}
	return kp
}

// waitFor polls cond every 10ms until it returns true or timeout
// elapses, failing the test on timeout.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", what)
}

func TestReactor_TwoPeerAuthenticationAndRouting(t *testing.T) {
	aKeys := mustKeys(t)
	bKeys := mustKeys(t)

	aCfg := config.Default()
	aCfg.EnableServer = true
	aCfg.ServerBindPort = 0
	aCfg.ApprovedIdentities = []string{bKeys.Identity.String()}

	a := New(aKeys, aCfg, nil, nil)
	if err := a.Start(); err != nil {
		t.Fatalf("a.Start() error = %v", err)
	}
	defer a.Stop()

	waitFor(t, time.Second, "A's listener to bind", func() bool { return a.ListenAddr() != "" })

	bCfg := config.Default()
	bCfg.RemoteEndpoints = []string{a.ListenAddr()}
	bCfg.ApprovedIdentities = []string{aKeys.Identity.String()}

	b := New(bKeys, bCfg, nil, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}
	defer b.Stop()

	waitFor(t, 5*time.Second, "mutual direct link", func() bool {
		return len(a.DirectLinks()) == 1 && len(b.DirectLinks()) == 1
	})

	waitFor(t, 5*time.Second, "each side to learn the other's path", func() bool {
		return a.table.Lookup(bKeys.Identity) != nil && b.table.Lookup(aKeys.Identity) != nil
	})

	ok, err := b.SendRelayToIdentity(aKeys.Identity, []byte("hello"))
	if err != nil {
		t.Fatalf("SendRelayToIdentity() error = %v", err)
	}
	if !ok {
		t.Fatal("SendRelayToIdentity() ok = false, want true")
	}

	select {
	case body := <-a.Deliver():
		if string(body.Payload) != "hello" {
			t.Errorf("delivered payload = %q, want hello", body.Payload)
		}
		if !body.Origin.Equal(bKeys.Identity) {
			t.Errorf("delivered origin = %v, want %v", body.Origin, bKeys.Identity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay delivery")
	}
}

func TestReactor_UnapprovedIdentityIsRejected(t *testing.T) {
	aKeys := mustKeys(t)
	bKeys := mustKeys(t)

	aCfg := config.Default()
	aCfg.EnableServer = true
	aCfg.ServerBindPort = 0
	aCfg.ApprovedIdentities = nil // approves nobody

	a := New(aKeys, aCfg, nil, nil)
	if err := a.Start(); err != nil {
		t.Fatalf("a.Start() error = %v", err)
	}
	defer a.Stop()
	waitFor(t, time.Second, "A's listener to bind", func() bool { return a.ListenAddr() != "" })

	bCfg := config.Default()
	bCfg.RemoteEndpoints = []string{a.ListenAddr()}
	bCfg.ApprovedIdentities = []string{aKeys.Identity.String()}
	bCfg.ReconnectDelaySeconds = 1

	b := New(bKeys, bCfg, nil, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}
	defer b.Stop()

	time.Sleep(500 * time.Millisecond)
	if len(a.DirectLinks()) != 0 {
		t.Error("unapproved identity produced a direct link on A")
	}
	if len(b.DirectLinks()) != 0 {
		t.Error("unapproved identity produced a direct link on B")
	}
}
