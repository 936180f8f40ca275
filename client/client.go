// Package client is the public surface of the overlay mesh runtime: a
// single Client wraps identity, configuration, and the reactor into
// the handful of calls an embedding application needs.
package client

import (
	"fmt"
	"log/slog"

	"github.com/overlaymesh/core/internal/config"
	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/logging"
	"github.com/overlaymesh/core/internal/metrics"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/reactor"
)

// Client is the embedding application's handle onto one overlay mesh
// node: its own identity, its configured peers, and the routing state
// built up from them.
type Client struct {
	keys *identity.KeyPair
	r    *reactor.Reactor
	log  *slog.Logger
}

// New loads or creates the local identity under cfg.DataDir, builds
// the reactor, and discloses the initial agent-information payload (if
// non-nil) before returning. It does not start the reactor; call
// Start for that.
func New(cfg *config.Config, initialAgentInfo []byte) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	keys, created, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load or create identity: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat).With(logging.KeyIdentity, keys.Identity.ShortString())
	if created {
		logger.Info("generated new local identity")
	}
	m := metrics.Default()

	r := reactor.New(keys, cfg, logger, m)
	c := &Client{keys: keys, r: r, log: logger}

	if initialAgentInfo != nil {
		r.DiscloseAgentInformation(initialAgentInfo)
	}

	return c, nil
}

// Start launches the reactor's tick loop and, if configured, its
// listener and initial outbound dials.
func (c *Client) Start() error {
	c.log.Info("starting overlay client", logging.KeyIdentity, c.keys.Identity.ShortString())
	return c.r.Start()
}

// Shutdown stops the tick loop and closes the listener, blocking until
// both have fully stopped.
func (c *Client) Shutdown() {
	c.log.Info("shutting down overlay client")
	c.r.Stop()
}

// Identity returns the local identity this client authenticates as.
func (c *Client) Identity() identity.Identity {
	return c.keys.Identity
}

// Relay sends payload along an explicit hop path. path names every
// hop from the first relay onward; it must not include the local
// identity.
func (c *Client) Relay(path []identity.Identity, payload []byte) error {
	return c.r.SendRelay(path, payload)
}

// RelayToIdentity sends payload to target using the fastest known
// route from the routing table. ok is false if no route is currently
// known.
func (c *Client) RelayToIdentity(target identity.Identity, payload []byte) (ok bool, err error) {
	return c.r.SendRelayToIdentity(target, payload)
}

// DiscloseAgentInformation increments the local agent-information
// version, stores payload, and broadcasts it to every authenticated
// peer.
func (c *Client) DiscloseAgentInformation(payload []byte) {
	c.r.DiscloseAgentInformation(payload)
}

// PollReceivedMessages drains every relay payload addressed to this
// client that has arrived since the last call, non-blocking.
func (c *Client) PollReceivedMessages() []protocol.RelayBody {
	var out []protocol.RelayBody
	ch := c.r.Deliver()
	for {
		select {
		case body := <-ch:
			out = append(out, body)
		default:
			return out
		}
	}
}

// Peers returns every identity currently known to the routing table,
// including the local identity.
func (c *Client) Peers() []identity.Identity {
	return c.r.Peers()
}

// DirectLinks returns the currently authenticated direct links (not
// the full multi-hop routing table).
func (c *Client) DirectLinks() []reactor.PeerLink {
	return c.r.DirectLinks()
}
