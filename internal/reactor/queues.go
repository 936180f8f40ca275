package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/overlaymesh/core/internal/auth"
	"github.com/overlaymesh/core/internal/link"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/transport"
)

// pendingOutbound tracks one in-flight dial. Done is set by the
// goroutine performing the dial once it has pushed a ConnectResult;
// step 1 of the tick removes entries once Done.
type pendingOutbound struct {
	endpoint string
	done     atomic.Bool
}

// receivedMessage pairs a decoded message with the link it arrived on,
// so later steps can reply or look up the sender's identity.
type receivedMessage struct {
	link *link.AuthenticatedLink
	msg  protocol.Message
}

// clientPathJob is a ClientPathBody pending processing.
type clientPathJob struct {
	body protocol.ClientPathBody
}

type agentInfoJob struct {
	body protocol.AgentInfoBody
}

type relayJob struct {
	body protocol.RelayBody
	hdr  protocol.Header
}

// queues holds every reactor-owned container behind a single mutex
// shared by all of them; the tick loop drains them in the fixed order
// documented on Tick.
type queues struct {
	mu sync.Mutex

	pendingOutbound    []*pendingOutbound
	connectionResults  []transport.ConnectResult
	authAttempts       []*auth.Attempt
	authAttemptResults []auth.Result
	receivedMessages   []receivedMessage
	relayMessages      []relayJob
	clientPathMessages []clientPathJob
	agentInfoMessages  []agentInfoJob
}

func (q *queues) pushPendingOutbound(p *pendingOutbound) {
	q.mu.Lock()
	q.pendingOutbound = append(q.pendingOutbound, p)
	q.mu.Unlock()
}

func (q *queues) pushConnectionResult(r transport.ConnectResult) {
	q.mu.Lock()
	q.connectionResults = append(q.connectionResults, r)
	q.mu.Unlock()
}

func (q *queues) pushAuthAttempt(a *auth.Attempt) {
	q.mu.Lock()
	q.authAttempts = append(q.authAttempts, a)
	q.mu.Unlock()
}

func (q *queues) pushAuthAttemptResult(r auth.Result) {
	q.mu.Lock()
	q.authAttemptResults = append(q.authAttemptResults, r)
	q.mu.Unlock()
}

func (q *queues) pushReceivedMessage(m receivedMessage) {
	q.mu.Lock()
	q.receivedMessages = append(q.receivedMessages, m)
	q.mu.Unlock()
}

func (q *queues) pushRelay(j relayJob) {
	q.mu.Lock()
	q.relayMessages = append(q.relayMessages, j)
	q.mu.Unlock()
}

func (q *queues) pushClientPath(j clientPathJob) {
	q.mu.Lock()
	q.clientPathMessages = append(q.clientPathMessages, j)
	q.mu.Unlock()
}

func (q *queues) pushAgentInfo(j agentInfoJob) {
	q.mu.Lock()
	q.agentInfoMessages = append(q.agentInfoMessages, j)
	q.mu.Unlock()
}
