// Package integration exercises several reactors wired together over
// real TCP loopback connections, covering scenarios a single
// package's unit tests can't: multi-hop relay, link loss, and
// cross-mesh agent-information propagation.
package integration

import (
	"testing"
	"time"

	"github.com/overlaymesh/core/internal/config"
	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/reactor"
)

func mustKeys(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate() error = %v", err)
	}
	return kp
}

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

// node is one listening, started reactor in a three-node chain test.
type node struct {
	keys *identity.KeyPair
	r    *reactor.Reactor
}

func newListeningNode(t *testing.T, approved ...*identity.KeyPair) *node {
	t.Helper()
	keys := mustKeys(t)
	cfg := config.Default()
	cfg.EnableServer = true
	cfg.ServerBindPort = 0
	for _, a := range approved {
		cfg.ApprovedIdentities = append(cfg.ApprovedIdentities, a.Identity.String())
	}
	r := reactor.New(keys, cfg, nil, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, "listener bind", func() bool { return r.ListenAddr() != "" })
	return &node{keys: keys, r: r}
}

// buildChain wires A - B - C, with B accepting both A and C. B approves
// A and C; A and C each approve only B (line topology of links and of
// trust).
func buildChain(t *testing.T) (a, b, c *node) {
	t.Helper()
	a = newListeningNode(t)
	c = newListeningNode(t)

	bCfg := config.Default()
	bCfg.EnableServer = true
	bCfg.ServerBindPort = 0
	bCfg.ApprovedIdentities = []string{a.keys.Identity.String(), c.keys.Identity.String()}
	bKeys := mustKeys(t)
	b = &node{keys: bKeys, r: reactor.New(bKeys, bCfg, nil, nil)}
	if err := b.r.Start(); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}
	waitFor(t, time.Second, "B listener bind", func() bool { return b.r.ListenAddr() != "" })

	a.r.SetApproved([]identity.Identity{b.keys.Identity})
	c.r.SetApproved([]identity.Identity{b.keys.Identity})

	a.r.Dial(b.r.ListenAddr())
	c.r.Dial(b.r.ListenAddr())

	waitFor(t, 5*time.Second, "A-B and B-C direct links", func() bool {
		return len(a.r.DirectLinks()) == 1 && len(b.r.DirectLinks()) == 2 && len(c.r.DirectLinks()) == 1
	})

	waitFor(t, 5*time.Second, "full routing convergence", func() bool {
		return a.r.Lookup(c.keys.Identity) && b.r.Lookup(a.keys.Identity) && b.r.Lookup(c.keys.Identity) && c.r.Lookup(a.keys.Identity)
	})

	return a, b, c
}

func TestThreePeerChain_RelayForwardsThroughMiddleHop(t *testing.T) {
	a, b, c := buildChain(t)
	defer a.r.Stop()
	defer b.r.Stop()
	defer c.r.Stop()

	ok, err := a.r.SendRelayToIdentity(c.keys.Identity, []byte("through B"))
	if err != nil {
		t.Fatalf("SendRelayToIdentity() error = %v", err)
	}
	if !ok {
		t.Fatal("SendRelayToIdentity() ok = false, want true")
	}

	select {
	case body := <-c.r.Deliver():
		if string(body.Payload) != "through B" {
			t.Errorf("delivered payload = %q", body.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for C to receive relayed payload")
	}
}

func TestThreePeerChain_AgentInfoPropagatesAcrossMesh(t *testing.T) {
	a, b, c := buildChain(t)
	defer a.r.Stop()
	defer b.r.Stop()
	defer c.r.Stop()

	a.r.DiscloseAgentInformation([]byte("v1"))

	waitFor(t, 3*time.Second, "C to learn A's agent information", func() bool {
		return c.r.AgentInfoPayload(a.keys.Identity) == "v1"
	})
	waitFor(t, 3*time.Second, "B to learn A's agent information", func() bool {
		return b.r.AgentInfoPayload(a.keys.Identity) == "v1"
	})
}

func TestThreePeerChain_LinkLossDeregistersTransitivePaths(t *testing.T) {
	a, b, c := buildChain(t)
	defer a.r.Stop()
	defer b.r.Stop()
	defer c.r.Stop()

	b.r.CloseLinkTo(c.keys.Identity)

	waitFor(t, 3*time.Second, "A to lose its path to C", func() bool {
		return !a.r.Lookup(c.keys.Identity)
	})
	waitFor(t, 3*time.Second, "B to lose its direct link to C", func() bool {
		return len(b.r.DirectLinks()) == 1
	})
}
