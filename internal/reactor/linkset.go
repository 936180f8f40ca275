package reactor

import (
	"sync"

	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/link"
	"github.com/overlaymesh/core/internal/protocol"
)

// linkSet is the reactor's set of authenticated links, keyed by remote
// identity. It implements relay.LinkSender.
type linkSet struct {
	mu    sync.Mutex
	links map[string]*link.AuthenticatedLink
}

func newLinkSet() *linkSet {
	return &linkSet{links: make(map[string]*link.AuthenticatedLink)}
}

func (s *linkSet) add(l *link.AuthenticatedLink) {
	s.mu.Lock()
	s.links[l.RemoteIdentity().String()] = l
	s.mu.Unlock()
}

func (s *linkSet) remove(l *link.AuthenticatedLink) {
	s.mu.Lock()
	if existing, ok := s.links[l.RemoteIdentity().String()]; ok && existing == l {
		delete(s.links, l.RemoteIdentity().String())
	}
	s.mu.Unlock()
}

// LinkTo implements relay.LinkSender.
func (s *linkSet) LinkTo(id identity.Identity) (func(protocol.Message) error, bool) {
	s.mu.Lock()
	l, ok := s.links[id.String()]
	s.mu.Unlock()
	if !ok || !l.Connected() {
		return nil, false
	}
	return l.Send, true
}

// all returns a snapshot of every link currently held.
func (s *linkSet) all() []*link.AuthenticatedLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*link.AuthenticatedLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

// broadcast sends m to every link not excluded, logging but not
// failing on a per-link send error (the link's own idle/disconnect
// handling will clean it up on a later tick).
func (s *linkSet) broadcast(m protocol.Message, exclude func(identity.Identity) bool) {
	for _, l := range s.all() {
		if exclude != nil && exclude(l.RemoteIdentity()) {
			continue
		}
		_ = l.Send(m)
	}
}
