package reactor

import (
	"time"

	"github.com/overlaymesh/core/internal/auth"
	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/link"
	"github.com/overlaymesh/core/internal/logging"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/relay"
	"github.com/overlaymesh/core/internal/routing"
)

// Tick drains every queue exactly once, in a fixed order. The link set
// and the scheduler are mutated only inside Tick (and the code it calls
// synchronously); background goroutines only post to a queue. The one
// exception is the routing table's local entry: DiscloseAgentInformation
// updates it and broadcasts the result on the caller's goroutine,
// without going through a queue.
//
//  1. pendingOutbound
//  2. connectionResults
//  3. authAttempts
//  4. authAttemptResults
//  5. authenticatedConnections (idle links)
//  6. receivedMessages
//  7. relayMessages
//  8. clientPathMessages
//  9. agentInformationMessages
//  10. pendingFunctionCalls (scheduler)
//  11. registeredClients (prune empty)
func (r *Reactor) Tick() {
	r.stepPendingOutbound()
	r.stepConnectionResults()
	r.stepAuthAttempts()
	r.stepAuthAttemptResults()
	r.stepAuthenticatedConnections()
	r.stepReceivedMessages()
	r.stepRelayMessages()
	r.stepClientPathMessages()
	r.stepAgentInfoMessages()
	r.stepScheduledCalls()
	r.stepPruneEmpty()
}

// stepPendingOutbound drops dial attempts that have resolved; the
// resolution itself was already pushed to connectionResults by the
// dialing goroutine.
func (r *Reactor) stepPendingOutbound() {
	r.queues.mu.Lock()
	kept := r.queues.pendingOutbound[:0]
	for _, p := range r.queues.pendingOutbound {
		if !p.done.Load() {
			kept = append(kept, p)
		}
	}
	r.queues.pendingOutbound = kept
	r.queues.mu.Unlock()
}

func (r *Reactor) stepConnectionResults() {
	r.queues.mu.Lock()
	results := r.queues.connectionResults
	r.queues.connectionResults = nil
	r.queues.mu.Unlock()

	for _, res := range results {
		if !res.Success {
			r.logger.Warn("connection attempt failed", logging.KeyError, res.Err)
			if res.Endpoint != "" {
				r.scheduleReconnect(res.Endpoint)
			}
			continue
		}
		r.startAuthAttempt(res.Info)
	}
}

func (r *Reactor) stepAuthAttempts() {
	r.queues.mu.Lock()
	kept := r.queues.authAttempts[:0]
	for _, a := range r.queues.authAttempts {
		if state := a.State(); state != auth.Done && state != auth.Failed {
			kept = append(kept, a)
		}
	}
	r.queues.authAttempts = kept
	r.queues.mu.Unlock()
}

func (r *Reactor) stepAuthAttemptResults() {
	r.queues.mu.Lock()
	results := r.queues.authAttemptResults
	r.queues.authAttemptResults = nil
	r.queues.mu.Unlock()

	for _, res := range results {
		if !res.Success {
			r.logger.Warn("authentication failed", logging.KeyError, res.Err)
			if res.Info != nil && !res.Info.Inbound {
				r.scheduleReconnect(res.Info.RemoteAddr)
			}
			if res.Info != nil {
				res.Info.Guard.Close()
			}
			continue
		}

		remoteID := res.Context.RemoteIdentity
		if !r.IsApproved(remoteID) {
			r.logger.Warn("rejecting unapproved identity", logging.PeerFields(remoteID.ShortString(), res.Info.Inbound)...)
			res.Info.Guard.Close()
			if !res.Info.Inbound {
				r.scheduleReconnect(res.Info.RemoteAddr)
			}
			continue
		}

		l := link.New(res.Info, res.Context)
		r.links.add(l)
		r.metrics.LinksTotal.Inc()
		r.metrics.LinksConnected.Inc()
		r.startReceiveLoop(l)
		r.sendRoutingSnapshot(l)

		result := r.table.RegisterPath(routing.Path{remoteID})
		if result.Accepted {
			r.metrics.PathsRegistered.Inc()
			r.broadcastClientPath(result.LocalPrefixed, true)
		}
	}
}

func (r *Reactor) stepAuthenticatedConnections() {
	var idleTimeout time.Duration
	if r.cfg.EnableAuthenticatedConnectionTimeout {
		idleTimeout = time.Duration(r.cfg.AuthenticatedConnectionTimeoutSeconds) * time.Second
	}

	for _, l := range r.links.all() {
		if idleTimeout > 0 && l.Connected() && l.IdleTime() > idleTimeout {
			l.Close()
		}

		if l.Removable() {
			r.links.remove(l)
			r.metrics.LinksConnected.Dec()
			removed := r.table.DeregisterNeighbor(l.RemoteIdentity())
			if len(removed) > 0 {
				r.broadcastClientPath(removed, false)
			}
			if !l.Info.Inbound {
				r.scheduleReconnect(l.Info.RemoteAddr)
			}
		}
	}
}

func (r *Reactor) stepReceivedMessages() {
	r.queues.mu.Lock()
	msgs := r.queues.receivedMessages
	r.queues.receivedMessages = nil
	r.queues.mu.Unlock()

	for _, rm := range msgs {
		switch rm.msg.Header.MessageType {
		case protocol.MessageRelay:
			if rm.msg.Relay != nil {
				r.queues.pushRelay(relayJob{body: *rm.msg.Relay, hdr: rm.msg.Header})
			}
		case protocol.MessageClientPath:
			if rm.msg.ClientPath != nil {
				r.queues.pushClientPath(clientPathJob{body: *rm.msg.ClientPath})
			}
		case protocol.MessageAgentInformation:
			if rm.msg.AgentInfo != nil {
				r.queues.pushAgentInfo(agentInfoJob{body: *rm.msg.AgentInfo})
			}
		}
	}
}

func (r *Reactor) stepRelayMessages() {
	r.queues.mu.Lock()
	jobs := r.queues.relayMessages
	r.queues.relayMessages = nil
	r.queues.mu.Unlock()

	for _, job := range jobs {
		outcome, err := relay.Process(r.localKeys.Identity, job.body, job.hdr, Version, r.links, func(body protocol.RelayBody) {
			select {
			case r.delivered <- body:
			default:
				r.logger.Warn("delivery channel full, dropping relay payload")
			}
		})
		if err != nil {
			r.logger.Warn("relay processing error", logging.KeyError, err)
		}
		switch outcome {
		case relay.OutcomeDeliveredLocally:
			r.metrics.RelayDelivered.Inc()
		case relay.OutcomeForwarded:
			r.metrics.RelayForwarded.Inc()
		case relay.OutcomeDropped:
			r.metrics.RelayDropped.WithLabelValues("no_route_or_misrouted").Inc()
		}
	}
}

func (r *Reactor) stepClientPathMessages() {
	r.queues.mu.Lock()
	jobs := r.queues.clientPathMessages
	r.queues.clientPathMessages = nil
	r.queues.mu.Unlock()

	for _, job := range jobs {
		if job.body.Register {
			result := r.table.RegisterPath(job.body.ClientPath)
			if result.Cycle || !result.Accepted {
				continue
			}
			r.metrics.PathsRegistered.Inc()
			r.broadcastClientPath(result.LocalPrefixed, true)
		} else {
			removed := r.table.DeregisterPath(job.body.ClientPath)
			if len(removed) == 0 {
				continue
			}
			r.metrics.PathsDeregistered.Inc()
			r.broadcastClientPath(removed, false)
		}
	}
}

func (r *Reactor) stepAgentInfoMessages() {
	r.queues.mu.Lock()
	jobs := r.queues.agentInfoMessages
	r.queues.agentInfoMessages = nil
	r.queues.mu.Unlock()

	for _, job := range jobs {
		accepted := r.table.UpdateAgentInfo(job.body.ClientIdentity, routing.AgentInformation{
			Version: job.body.Version,
			Payload: job.body.Payload,
		})
		if !accepted {
			r.metrics.AgentInfoRejected.Inc()
			continue
		}
		r.metrics.AgentInfoUpdates.Inc()
		msg := protocol.Message{
			Header:    protocol.Header{MessageType: protocol.MessageAgentInformation, Version: Version, DiscourseID: r.nextDiscourseID()},
			AgentInfo: &job.body,
		}
		r.links.broadcast(msg, func(identity.Identity) bool { return false })
	}
}

func (r *Reactor) stepScheduledCalls() {
	r.scheduler.Drain()
}

func (r *Reactor) stepPruneEmpty() {
	pruned := r.table.PruneEmpty()
	r.metrics.RoutingTableSize.Set(float64(len(r.table.All())))
	if len(pruned) > 0 {
		r.logger.Debug("pruned empty registered clients", logging.KeyCount, len(pruned))
	}
}

func (r *Reactor) scheduleReconnect(endpoint string) {
	delay := time.Duration(r.cfg.ReconnectDelaySeconds) * time.Second
	r.metrics.ReconnectsScheduled.Inc()
	r.scheduler.ScheduleReconnect(endpoint, delay)
}

// broadcastClientPath rebroadcasts a registration or deregistration to
// every link not already named somewhere in the path (split horizon):
// those peers are already part of the route, so forwarding to them
// would only produce a cycle. The path is sent exactly as locally
// prefixed; each peer receiving it prepends its own identity in turn,
// so the path grows by one hop per link traversed.
func (r *Reactor) broadcastClientPath(path routing.Path, register bool) {
	if len(path) == 0 {
		return
	}
	msg := protocol.Message{
		Header:     protocol.Header{MessageType: protocol.MessageClientPath, Version: Version, DiscourseID: r.nextDiscourseID()},
		ClientPath: &protocol.ClientPathBody{ClientPath: path, Register: register},
	}
	r.links.broadcast(msg, func(id identity.Identity) bool {
		return path.Contains(id)
	})
}

// sendRoutingSnapshot announces every currently known path to a
// freshly authenticated peer so it can build its own routing table.
// Paths are sent exactly as locally prefixed, matching
// broadcastClientPath.
func (r *Reactor) sendRoutingSnapshot(l *link.AuthenticatedLink) {
	for _, client := range r.table.All() {
		for _, path := range client.Paths() {
			if len(path) == 0 {
				continue
			}
			msg := protocol.Message{
				Header:     protocol.Header{MessageType: protocol.MessageClientPath, Version: Version, DiscourseID: r.nextDiscourseID()},
				ClientPath: &protocol.ClientPathBody{ClientPath: path, Register: true},
			}
			_ = l.Send(msg)
		}
	}
}
