// Package routing maintains the distributed index of per-identity
// paths: the set of known routes to every reachable client, kept
// current by register/deregister announcements propagated over
// authenticated links with split-horizon rebroadcast and cycle
// rejection.
package routing

import (
	"sync"

	"github.com/overlaymesh/core/internal/identity"
)

// Path is a source route: [local_identity, hop1, ..., target_identity].
// Every path begins with the local client's own identity and ends
// with the identity it names a route to.
type Path []identity.Identity

// Equal reports whether two paths name the exact same hop sequence.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p starts with every identity in prefix, in
// order.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if !p[i].Equal(prefix[i]) {
			return false
		}
	}
	return true
}

// Contains reports whether id appears anywhere in the path.
func (p Path) Contains(id identity.Identity) bool {
	for _, hop := range p {
		if hop.Equal(id) {
			return true
		}
	}
	return false
}

// Clone returns a copy of the path.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// RegisteredClient is the routing entry for one remote identity: its
// agent-information record and the set of known paths to it. The
// entry for the local identity always exists with exactly one path,
// [local_identity].
type RegisteredClient struct {
	Identity  identity.Identity
	AgentInfo AgentInformation
	paths     []Path
}

// Paths returns a snapshot of the client's known paths, ordered by
// arrival (insertion order); index 0 is the "fastest" path.
func (c *RegisteredClient) Paths() []Path {
	out := make([]Path, len(c.paths))
	for i, p := range c.paths {
		out[i] = p.Clone()
	}
	return out
}

// FastestPath returns the earliest-learned path, or nil if none is
// known.
func (c *RegisteredClient) FastestPath() Path {
	if len(c.paths) == 0 {
		return nil
	}
	return c.paths[0].Clone()
}

// Empty reports whether the client has no known paths left.
func (c *RegisteredClient) Empty() bool {
	return len(c.paths) == 0
}

func (c *RegisteredClient) registerPath(p Path) bool {
	for _, existing := range c.paths {
		if existing.Equal(p) {
			return false
		}
	}
	c.paths = append(c.paths, p)
	return true
}

func (c *RegisteredClient) deregisterPathsStartingWith(prefix Path) {
	kept := c.paths[:0]
	for _, existing := range c.paths {
		if !existing.HasPrefix(prefix) {
			kept = append(kept, existing)
		}
	}
	c.paths = kept
}

// Table is the reactor's routing index: one RegisteredClient per
// known identity, guarded by a single mutex (acquired by the reactor
// in the fixed lock order, never nested under any other container's
// lock).
type Table struct {
	mu      sync.Mutex
	clients map[string]*RegisteredClient
	local   identity.Identity
}

// NewTable creates a routing table seeded with the local client's own
// single-hop entry, [local_identity].
func NewTable(local identity.Identity) *Table {
	t := &Table{
		clients: make(map[string]*RegisteredClient),
		local:   local,
	}
	t.clients[local.String()] = &RegisteredClient{
		Identity: local,
		paths:    []Path{{local}},
	}
	return t
}

func (t *Table) lookupOrCreateLocked(id identity.Identity) *RegisteredClient {
	c, ok := t.clients[id.String()]
	if !ok {
		c = &RegisteredClient{Identity: id}
		t.clients[id.String()] = c
	}
	return c
}

// Lookup returns a snapshot of the RegisteredClient for id, or nil if
// unknown.
func (t *Table) Lookup(id identity.Identity) *RegisteredClient {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[id.String()]
	if !ok {
		return nil
	}
	return &RegisteredClient{
		Identity:  c.Identity,
		AgentInfo: c.AgentInfo,
		paths:     c.Paths(),
	}
}

// FastestPathTo returns the earliest-learned path to id, or nil if
// unknown.
func (t *Table) FastestPathTo(id identity.Identity) Path {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[id.String()]
	if !ok {
		return nil
	}
	return c.FastestPath()
}

// RegisterResult reports what a RegisterPath call did, so the caller
// (the reactor's client-path processor) knows whether to rebroadcast.
type RegisterResult struct {
	// LocalPrefixed is the path after prepending the local identity,
	// ready to attach to a rebroadcast message.
	LocalPrefixed Path
	// Accepted is true if the path was newly registered (not a cycle,
	// not a duplicate). Only then should the message be rebroadcast.
	Accepted bool
	// Cycle is true if the path was rejected because the local
	// identity appeared somewhere other than at the front.
	Cycle bool
}

// RegisterPath implements the receipt of ClientPath{register: true}.
// received is the path as it arrived on the wire, not yet prefixed
// with the local identity.
func (t *Table) RegisterPath(received Path) RegisterResult {
	prefixed := make(Path, 0, len(received)+1)
	prefixed = append(prefixed, t.local)
	prefixed = append(prefixed, received...)

	target := prefixed[len(prefixed)-1]
	for _, hop := range prefixed[1 : len(prefixed)-1] {
		if hop.Equal(t.local) {
			return RegisterResult{LocalPrefixed: prefixed, Cycle: true}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	client := t.lookupOrCreateLocked(target)
	accepted := client.registerPath(prefixed)
	return RegisterResult{LocalPrefixed: prefixed, Accepted: accepted}
}

// DeregisterPath implements the receipt of ClientPath{register:
// false}: every registered client loses every path that starts with
// the locally-prefixed path, since any path depending on that prefix
// is now invalid. Returns the locally-prefixed path for rebroadcast.
func (t *Table) DeregisterPath(received Path) Path {
	prefixed := make(Path, 0, len(received)+1)
	prefixed = append(prefixed, t.local)
	prefixed = append(prefixed, received...)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, client := range t.clients {
		client.deregisterPathsStartingWith(prefixed)
	}
	return prefixed
}

// DeregisterNeighbor synthesizes a deregistration for a directly lost
// neighbor N: the prefix [N], which after local-prefixing becomes
// [local, N].
func (t *Table) DeregisterNeighbor(neighbor identity.Identity) Path {
	return t.DeregisterPath(Path{neighbor})
}

// PruneEmpty removes every RegisteredClient whose path set has become
// empty, except the local client's own entry (which is never removed).
func (t *Table) PruneEmpty() []identity.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pruned []identity.Identity
	for key, client := range t.clients {
		if client.Identity.Equal(t.local) {
			continue
		}
		if client.Empty() {
			pruned = append(pruned, client.Identity)
			delete(t.clients, key)
		}
	}
	return pruned
}

// All returns a snapshot of every registered client.
func (t *Table) All() []*RegisteredClient {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*RegisteredClient, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, &RegisteredClient{
			Identity:  c.Identity,
			AgentInfo: c.AgentInfo,
			paths:     c.Paths(),
		})
	}
	return out
}
