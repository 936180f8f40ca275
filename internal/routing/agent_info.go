package routing

import "github.com/overlaymesh/core/internal/identity"

// AgentInformation is an opaque versioned metadata record carried by a
// RegisteredClient. Updates are accepted only when strictly newer;
// equal or older versions are dropped without rebroadcast.
type AgentInformation struct {
	Version uint64
	Payload []byte
}

// NewerThan reports whether a has a strictly greater version than
// other. Equality is rejected, matching the gossip's monotonic-update
// rule.
func (a AgentInformation) NewerThan(other AgentInformation) bool {
	return a.Version > other.Version
}

// UpdateAgentInfo implements receipt of AgentInformation{id, info}: if
// id is a known client and info is newer than its current record,
// update and report true (rebroadcast); otherwise leave untouched and
// report false.
func (t *Table) UpdateAgentInfo(id identity.Identity, info AgentInformation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	client, ok := t.clients[id.String()]
	if !ok {
		return false
	}
	if !info.NewerThan(client.AgentInfo) {
		return false
	}
	client.AgentInfo = info
	return true
}

// DiscloseLocal increments the local client's agent-information
// version and sets its payload, for local disclosure broadcast.
func (t *Table) DiscloseLocal(payload []byte) AgentInformation {
	t.mu.Lock()
	defer t.mu.Unlock()

	client := t.clients[t.local.String()]
	client.AgentInfo = AgentInformation{
		Version: client.AgentInfo.Version + 1,
		Payload: payload,
	}
	return client.AgentInfo
}
