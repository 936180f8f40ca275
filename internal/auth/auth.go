// Package auth implements the mutual authenticator: the finite
// protocol that turns a freshly connected socket into a shared
// security.Context. Both sides generate a random seed, exchange seeds
// in cleartext, then each proves possession of its private key by
// signing a transcript derived from both seeds. The acceptor
// challenges first to fix ordering and avoid deadlock.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/security"
	"github.com/overlaymesh/core/internal/transport"
)

// State names the authenticator's position in its state machine.
type State int

const (
	Init State = iota
	SeedExchange
	ChallengeLocal
	ChallengeRemote
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case SeedExchange:
		return "SeedExchange"
	case ChallengeLocal:
		return "ChallengeLocal"
	case ChallengeRemote:
		return "ChallengeRemote"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrTimedOut is returned when an attempt exceeds its configured
// timeout. Any later I/O completion for the attempt must be ignored.
var ErrTimedOut = errors.New("authentication attempt timed out")

// ErrSignatureInvalid is returned when a peer's challenge signature
// does not verify against the public key it presented.
var ErrSignatureInvalid = errors.New("challenge signature invalid")

// ErrVersionMismatch is returned when the seed a peer sends is not
// exactly security.TokenSize bytes long.
var ErrVersionMismatch = errors.New("unsupported challenge encoding")

// Result is the single outcome record pushed to the reactor per
// attempt: exactly one of Context/Err is meaningful, selected by
// Success.
type Result struct {
	Info    *transport.Info
	Context *security.Context
	Success bool
	Err     error
}

// Attempt drives one mutual authentication over a freshly connected
// socket. Construct with NewAttempt and call Run in its own goroutine;
// Run blocks until Done or Failed and returns exactly one Result.
type Attempt struct {
	info      *transport.Info
	localKeys *identity.KeyPair
	timeout   time.Duration
	enableTimeout bool

	startTime time.Time
	state     State
}

// NewAttempt creates an authentication attempt for a freshly connected
// socket. info.Inbound determines role: inbound connections are the
// acceptor and challenge first.
func NewAttempt(info *transport.Info, localKeys *identity.KeyPair, enableTimeout bool, timeout time.Duration) *Attempt {
	return &Attempt{
		info:          info,
		localKeys:     localKeys,
		timeout:       timeout,
		enableTimeout: enableTimeout,
		startTime:     time.Now(),
		state:         Init,
	}
}

// State returns the attempt's current state.
func (a *Attempt) State() State {
	return a.state
}

// Expired reports whether the attempt has exceeded its timeout,
// regardless of in-flight I/O.
func (a *Attempt) Expired() bool {
	return a.enableTimeout && time.Since(a.startTime) >= a.timeout
}

const seedSize = security.TokenSize

// Run executes the full handshake synchronously and returns the single
// Result for this attempt. The caller is expected to run this in a
// dedicated goroutine and post the Result to the reactor's
// authentication-attempt-results queue.
//
// When a timeout is configured, the socket deadline is set for the
// duration of the handshake so a peer that goes silent mid-challenge
// cannot block Run forever: Guard.Send/Receive return a timeout error
// on their own, which Run maps back to ErrTimedOut and Failed, rather
// than relying on Expired being checked only after I/O completes.
func (a *Attempt) Run() Result {
	a.state = SeedExchange

	if a.enableTimeout {
		if err := a.info.Guard.SetDeadline(a.startTime.Add(a.timeout)); err != nil {
			a.state = Failed
			return Result{Info: a.info, Success: false, Err: fmt.Errorf("set handshake deadline: %w", err)}
		}
	}

	ctx, err := a.runSeedAndChallenges()
	if err != nil || a.Expired() {
		a.state = Failed
		if err == nil || isTimeout(err) {
			err = ErrTimedOut
		}
		return Result{Info: a.info, Success: false, Err: err}
	}

	if a.enableTimeout {
		_ = a.info.Guard.SetDeadline(time.Time{})
	}
	a.state = Done
	return Result{Info: a.info, Context: ctx, Success: true}
}

// isTimeout reports whether err (possibly wrapped) originated from a
// socket deadline expiring.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (a *Attempt) runSeedAndChallenges() (*security.Context, error) {
	localSeed := make([]byte, seedSize)
	if _, err := rand.Read(localSeed); err != nil {
		return nil, fmt.Errorf("generate local seed: %w", err)
	}

	// The acceptor sends its seed first and the dialer answers, so the
	// exchange cannot stall on a transport that blocks a write until
	// the peer reads it.
	var remoteSeed []byte
	var err error
	if a.info.Inbound {
		if err = a.info.Guard.Send(localSeed); err != nil {
			return nil, fmt.Errorf("send seed: %w", err)
		}
		if remoteSeed, err = a.info.Guard.Receive(); err != nil {
			return nil, fmt.Errorf("receive seed: %w", err)
		}
	} else {
		if remoteSeed, err = a.info.Guard.Receive(); err != nil {
			return nil, fmt.Errorf("receive seed: %w", err)
		}
		if err = a.info.Guard.Send(localSeed); err != nil {
			return nil, fmt.Errorf("send seed: %w", err)
		}
	}
	if len(remoteSeed) != seedSize {
		return nil, fmt.Errorf("%w: remote seed length %d", ErrVersionMismatch, len(remoteSeed))
	}

	var remotePub *rsa.PublicKey
	var remoteIdentity identity.Identity

	// The acceptor challenges first; order is fixed by role to avoid
	// both sides blocking on a read simultaneously.
	if a.info.Inbound {
		a.state = ChallengeLocal
		if err := a.sendChallenge(localSeed, remoteSeed); err != nil {
			return nil, err
		}
		a.state = ChallengeRemote
		remotePub, remoteIdentity, err = a.receiveChallenge(localSeed, remoteSeed)
		if err != nil {
			return nil, err
		}
	} else {
		a.state = ChallengeRemote
		remotePub, remoteIdentity, err = a.receiveChallenge(localSeed, remoteSeed)
		if err != nil {
			return nil, err
		}
		a.state = ChallengeLocal
		if err := a.sendChallenge(localSeed, remoteSeed); err != nil {
			return nil, err
		}
	}

	return security.NewContext(a.localKeys.PrivateKey, remoteSeed, remotePub, localSeed, remoteIdentity), nil
}

// sendChallenge proves possession of the local private key: sign the
// transcript of (seed we generated, seed we received) and send the
// local public key plus the signature.
func (a *Attempt) sendChallenge(localSeed, remoteSeed []byte) error {
	transcript := append(append([]byte{}, localSeed...), remoteSeed...)
	sig, err := security.Sign(a.localKeys.PrivateKey, transcript)
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}

	idBytes := []byte(a.localKeys.Identity.String())
	msg := make([]byte, 0, 8+len(idBytes)+len(sig))
	msg = appendLengthPrefixed(msg, idBytes)
	msg = appendLengthPrefixed(msg, sig)

	if err := a.info.Guard.Send(msg); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}
	return nil
}

// receiveChallenge validates the peer's proof of possession. The
// transcript the peer signed was (their generated seed, their
// received seed) = (remoteSeed, localSeed) from this side's view.
func (a *Attempt) receiveChallenge(localSeed, remoteSeed []byte) (*rsa.PublicKey, identity.Identity, error) {
	msg, err := a.info.Guard.Receive()
	if err != nil {
		return nil, identity.ZeroIdentity, fmt.Errorf("receive challenge: %w", err)
	}

	idBytes, rest, err := readLengthPrefixed(msg)
	if err != nil {
		return nil, identity.ZeroIdentity, fmt.Errorf("challenge identity: %w", err)
	}
	sig, _, err := readLengthPrefixed(rest)
	if err != nil {
		return nil, identity.ZeroIdentity, fmt.Errorf("challenge signature: %w", err)
	}

	remoteIdentity, err := identity.Parse(string(idBytes))
	if err != nil {
		return nil, identity.ZeroIdentity, fmt.Errorf("challenge identity: %w", err)
	}
	remotePub, err := remoteIdentity.PublicKey()
	if err != nil {
		return nil, identity.ZeroIdentity, fmt.Errorf("challenge public key: %w", err)
	}

	transcript := append(append([]byte{}, remoteSeed...), localSeed...)
	if !security.Verify(remotePub, transcript, sig) {
		return nil, identity.ZeroIdentity, ErrSignatureInvalid
	}
	return remotePub, remoteIdentity, nil
}

func appendLengthPrefixed(buf []byte, data []byte) []byte {
	var length [8]byte
	putUint64(length[:], uint64(len(data)))
	buf = append(buf, length[:]...)
	return append(buf, data...)
}

func readLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("short length prefix")
	}
	n := getUint64(data[:8])
	rest := data[8:]
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
