// Package reactor implements the single logical thread that drains
// every queue in a fixed order and mutates all shared state, while
// background goroutines perform blocking I/O and post completions
// back into the queues.
package reactor

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/overlaymesh/core/internal/auth"
	"github.com/overlaymesh/core/internal/config"
	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/link"
	"github.com/overlaymesh/core/internal/logging"
	"github.com/overlaymesh/core/internal/metrics"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/recovery"
	"github.com/overlaymesh/core/internal/relay"
	"github.com/overlaymesh/core/internal/routing"
	"github.com/overlaymesh/core/internal/scheduler"
	"github.com/overlaymesh/core/internal/transport"
)

// tickInterval is the fixed interval between ticks.
const tickInterval = 10 * time.Millisecond

// Version is the runtime version stamped on outgoing and rebroadcast
// message headers.
var Version = protocol.Version{Major: 1, Minor: 0, Patch: 0}

// Reactor owns every piece of shared mutable state: the routing
// table, the authenticated link set, and the fixed-order queues that
// feed each tick.
type Reactor struct {
	localKeys *identity.KeyPair
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	table     *routing.Table
	links     *linkSet
	scheduler *scheduler.Scheduler
	queues    queues

	approvedMu sync.RWMutex
	approved   map[string]bool

	acceptor *transport.Acceptor

	discourseSeq uint64
	tickCount    uint64

	delivered chan protocol.RelayBody

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Reactor for the local identity and configuration.
// It does not start the tick loop or any listener; call Start for
// that.
func New(localKeys *identity.KeyPair, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Reactor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}

	approved := make(map[string]bool, len(cfg.ApprovedIdentities))
	for _, id := range cfg.ApprovedIdentities {
		approved[id] = true
	}

	r := &Reactor{
		localKeys: localKeys,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		table:     routing.NewTable(localKeys.Identity),
		links:     newLinkSet(),
		approved:  approved,
		delivered: make(chan protocol.RelayBody, 256),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	r.scheduler = scheduler.New(r.dispatchScheduledAction)
	return r
}

// dispatchScheduledAction carries out one fired scheduler.Action. It
// runs from Drain, inside stepScheduledCalls, on the reactor's own
// goroutine.
func (r *Reactor) dispatchScheduledAction(a scheduler.Action) {
	if a.Reconnect != nil {
		r.dialOutbound(a.Reconnect.Endpoint)
	}
}

// IsApproved reports whether id is in the configured approved set.
func (r *Reactor) IsApproved(id identity.Identity) bool {
	r.approvedMu.RLock()
	defer r.approvedMu.RUnlock()
	return r.approved[id.String()]
}

// SetApproved replaces the approved-identity set at runtime.
func (r *Reactor) SetApproved(ids []identity.Identity) {
	next := make(map[string]bool, len(ids))
	for _, id := range ids {
		next[id.String()] = true
	}
	r.approvedMu.Lock()
	r.approved = next
	r.approvedMu.Unlock()
}

// Start launches the tick loop and, if configured, the listener and
// initial outbound dials. It returns once the acceptor (if any) is
// bound; the tick loop and I/O goroutines continue in the background
// until Stop is called.
func (r *Reactor) Start() error {
	if r.cfg.EnableServer {
		acceptor, err := transport.Listen(r.cfg.ServerBindPort)
		if err != nil {
			return err
		}
		r.acceptor = acceptor
		go r.acceptLoop(acceptor)
	}

	for _, endpoint := range r.cfg.RemoteEndpoints {
		r.dialOutbound(endpoint)
	}

	go r.tickLoop()
	return nil
}

// Stop halts the tick loop and closes the listener. In-flight I/O
// goroutines drain naturally as their sockets close.
func (r *Reactor) Stop() {
	close(r.stopCh)
	if r.acceptor != nil {
		r.acceptor.Close()
	}
	<-r.doneCh
}

func (r *Reactor) tickLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runTickSafely()
		}
	}
}

func (r *Reactor) runTickSafely() {
	r.tickCount++
	defer recovery.RecoverWithLog(r.logger, "reactor.tick", logging.KeyTick, r.tickCount)
	start := time.Now()
	r.Tick()
	r.metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (r *Reactor) nextDiscourseID() uint64 {
	r.discourseSeq++
	return r.discourseSeq
}

// dialOutbound kicks off one outbound connection attempt in its own
// goroutine, registering a pendingOutbound entry so step 1 can reap it
// once the dial resolves.
func (r *Reactor) dialOutbound(endpoint string) {
	p := &pendingOutbound{endpoint: endpoint}
	r.queues.pushPendingOutbound(p)

	go func() {
		defer recovery.RecoverWithLog(r.logger, "reactor.dial", logging.KeyRemoteAddr, endpoint)
		info, err := transport.Dial(endpoint, 10*time.Second)
		r.queues.pushConnectionResult(transport.ConnectResult{Info: info, Success: err == nil, Err: err, Endpoint: endpoint})
		p.done.Store(true)
	}()
}

func (r *Reactor) acceptLoop(acceptor *transport.Acceptor) {
	defer recovery.RecoverWithLog(r.logger, "reactor.accept", logging.KeyLocalAddr, acceptor.Addr().String())
	for {
		info, err := acceptor.Accept()
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.queues.pushConnectionResult(transport.ConnectResult{Info: info, Success: err == nil, Err: err})
		if err != nil {
			return
		}
	}
}

func (r *Reactor) startAuthAttempt(info *transport.Info) {
	attempt := auth.NewAttempt(info, r.localKeys, r.cfg.EnablePendingAuthenticationTimeout, time.Duration(r.cfg.PendingAuthenticationTimeoutSeconds)*time.Second)
	r.queues.pushAuthAttempt(attempt)
	r.metrics.AuthAttempts.Inc()

	go func() {
		defer recovery.RecoverWithLog(r.logger, "reactor.auth", logging.KeyRemoteAddr, info.RemoteAddr)
		r.queues.pushAuthAttemptResult(attempt.Run())
	}()
}

func (r *Reactor) startReceiveLoop(l *link.AuthenticatedLink) {
	go func() {
		defer recovery.RecoverWithLog(r.logger, "reactor.receive", logging.PeerFields(l.RemoteIdentity().ShortString(), l.Info.Inbound)...)
		for {
			l.BeginReceive()
			msg, err := l.Receive()
			l.EndReceive()
			if err != nil {
				l.Close()
				return
			}
			r.queues.pushReceivedMessage(receivedMessage{link: l, msg: msg})
		}
	}()
}

// Deliver returns the channel of application-bound relay payloads:
// the result of a Relay message whose path has been fully consumed.
func (r *Reactor) Deliver() <-chan protocol.RelayBody {
	return r.delivered
}

// ErrNoRoute is returned by SendRelay when path is empty; there is
// nothing to enqueue.
var ErrNoRoute = relay.ErrNoRoute

// ErrSelfRelay is returned by SendRelayToIdentity when target is the
// local identity: there is no route to build, since delivery would be
// immediate and bypasses the reactor entirely.
var ErrSelfRelay = errors.New("cannot relay to the local identity")

// SendRelay enqueues payload for delivery along an explicit hop path
// (not including the local identity). The local identity is prefixed
// onto the path before queueing, so the message is processed by
// stepRelayMessages exactly like one that arrived from a peer: the
// reactor's own goroutine never performs the outbound I/O, and the
// relay queue stays the single place that dispatches sends.
func (r *Reactor) SendRelay(path []identity.Identity, payload []byte) error {
	if len(path) == 0 {
		return relay.ErrNoRoute
	}
	full := make([]identity.Identity, 0, len(path)+1)
	full = append(full, r.localKeys.Identity)
	full = append(full, path...)
	msg := relay.BuildOutgoing(r.localKeys.Identity, full, payload, Version, r.nextDiscourseID())
	r.queues.pushRelay(relayJob{body: *msg.Relay, hdr: msg.Header})
	return nil
}

// SendRelayToIdentity resolves target via the routing table's fastest
// known path and enqueues it for delivery. Reports false if no path is
// known.
func (r *Reactor) SendRelayToIdentity(target identity.Identity, payload []byte) (bool, error) {
	if target.Equal(r.localKeys.Identity) {
		return false, ErrSelfRelay
	}
	msg, ok := relay.BuildOutgoingToIdentity(r.localKeys.Identity, target, payload, Version, r.nextDiscourseID(), r.table)
	if !ok {
		return false, nil
	}
	r.queues.pushRelay(relayJob{body: *msg.Relay, hdr: msg.Header})
	return true, nil
}

// DiscloseAgentInformation increments the local agent-information
// version, stores the new payload, and broadcasts it to every
// authenticated link.
func (r *Reactor) DiscloseAgentInformation(payload []byte) {
	info := r.table.DiscloseLocal(payload)
	body := protocol.AgentInfoBody{ClientIdentity: r.localKeys.Identity, Version: info.Version, Payload: info.Payload}
	msg := protocol.Message{
		Header:    protocol.Header{MessageType: protocol.MessageAgentInformation, Version: Version, DiscourseID: r.nextDiscourseID()},
		AgentInfo: &body,
	}
	r.links.broadcast(msg, func(identity.Identity) bool { return false })
}

// Peers returns every identity currently registered in the routing
// table, local identity included.
func (r *Reactor) Peers() []identity.Identity {
	clients := r.table.All()
	out := make([]identity.Identity, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Identity)
	}
	return out
}

// PeerLink describes one directly authenticated link, for CLI/status
// surfaces that want more than the routing table's identity list.
type PeerLink struct {
	Identity   identity.Identity
	Inbound    bool
	RemoteAddr string
	IdleFor    time.Duration
}

// DirectLinks returns the currently authenticated direct links, not
// the full multi-hop routing table.
func (r *Reactor) DirectLinks() []PeerLink {
	links := r.links.all()
	out := make([]PeerLink, 0, len(links))
	for _, l := range links {
		out = append(out, PeerLink{
			Identity:   l.RemoteIdentity(),
			Inbound:    l.Info.Inbound,
			RemoteAddr: l.Info.RemoteAddr,
			IdleFor:    l.IdleTime(),
		})
	}
	return out
}

// LocalIdentity returns the identity this reactor authenticates as.
func (r *Reactor) LocalIdentity() identity.Identity {
	return r.localKeys.Identity
}

// ListenAddr returns the bound address of the server listener, or ""
// if the server is not enabled or not yet started.
func (r *Reactor) ListenAddr() string {
	if r.acceptor == nil {
		return ""
	}
	return r.acceptor.Addr().String()
}

// Dial starts an additional outbound connection attempt to endpoint,
// outside of the RemoteEndpoints configured at construction time.
func (r *Reactor) Dial(endpoint string) {
	r.dialOutbound(endpoint)
}

// Lookup reports whether id is currently reachable in the routing
// table (directly or via a multi-hop path).
func (r *Reactor) Lookup(id identity.Identity) bool {
	return r.table.Lookup(id) != nil
}

// AgentInfoPayload returns the agent-information payload currently on
// file for id, or "" if id is unknown or has never disclosed one.
func (r *Reactor) AgentInfoPayload(id identity.Identity) string {
	client := r.table.Lookup(id)
	if client == nil {
		return ""
	}
	return string(client.AgentInfo.Payload)
}

// CloseLinkTo closes the direct authenticated link to id, if any, so
// tests and operators can simulate link loss.
func (r *Reactor) CloseLinkTo(id identity.Identity) {
	for _, l := range r.links.all() {
		if l.RemoteIdentity().Equal(id) {
			l.Close()
			return
		}
	}
}
