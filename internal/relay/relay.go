// Package relay implements source-routed forwarding: strip the local
// identity from the front of a path, deliver locally on an empty
// path, or forward to the next hop on an authenticated link.
package relay

import (
	"errors"

	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/routing"
)

// ErrMisrouted is returned when a relay message arrives whose path
// front does not name the local identity.
var ErrMisrouted = errors.New("relay message misrouted: path front is not local identity")

// ErrNoRoute is returned when the next hop named by the path is not an
// authenticated link.
var ErrNoRoute = errors.New("relay message dropped: next hop not connected")

// LinkSender is the subset of the authenticated-link set the relay
// engine needs: find a link by remote identity.
type LinkSender interface {
	LinkTo(id identity.Identity) (send func(protocol.Message) error, ok bool)
}

// Outcome describes what Process did with one relay message, so the
// reactor can log or count it.
type Outcome int

const (
	OutcomeDeliveredLocally Outcome = iota
	OutcomeForwarded
	OutcomeDropped
)

// Process implements receipt of Relay{origin, path, payload} on an
// authenticated link. localVersion is stamped onto the header before
// any forward. deliver is called exactly once if the payload's final
// destination is this client.
func Process(local identity.Identity, msg protocol.RelayBody, header protocol.Header, localVersion protocol.Version, links LinkSender, deliver func(protocol.RelayBody)) (Outcome, error) {
	if len(msg.Path) == 0 || !msg.Path[0].Equal(local) {
		return OutcomeDropped, ErrMisrouted
	}

	remaining := msg.Path[1:]

	if len(remaining) == 0 {
		deliver(protocol.RelayBody{Origin: msg.Origin, Path: nil, Payload: msg.Payload})
		return OutcomeDeliveredLocally, nil
	}

	nextHop := remaining[0]
	send, ok := links.LinkTo(nextHop)
	if !ok {
		return OutcomeDropped, ErrNoRoute
	}

	header.Version = localVersion
	forwardMsg := protocol.Message{
		Header: header,
		Relay: &protocol.RelayBody{
			Origin:  msg.Origin,
			Path:    remaining,
			Payload: msg.Payload,
		},
	}
	if err := send(forwardMsg); err != nil {
		return OutcomeDropped, err
	}
	return OutcomeForwarded, nil
}

// BuildOutgoing constructs the Relay message the application's
// relay(path, payload) call enqueues: origin is always the local
// identity.
func BuildOutgoing(local identity.Identity, path []identity.Identity, payload []byte, version protocol.Version, discourseID uint64) protocol.Message {
	return protocol.Message{
		Header: protocol.Header{
			MessageType: protocol.MessageRelay,
			Version:     version,
			DiscourseID: discourseID,
		},
		Relay: &protocol.RelayBody{
			Origin:  local,
			Path:    path,
			Payload: payload,
		},
	}
}

// BuildOutgoingToIdentity resolves target via the routing table's
// fastest known path before building the message. The stored path,
// [local, hop1, ..., target], is used as-is: a locally originated
// relay is queued and processed by the same Process function that
// handles a message arriving from a peer, which expects the path
// front to name the local identity and strips it on its first hop.
// Returns false if no path to target is known.
func BuildOutgoingToIdentity(local identity.Identity, target identity.Identity, payload []byte, version protocol.Version, discourseID uint64, table *routing.Table) (protocol.Message, bool) {
	path := table.FastestPathTo(target)
	if len(path) < 2 {
		return protocol.Message{}, false
	}
	return BuildOutgoing(local, path, payload, version, discourseID), true
}
