// Package link implements the authenticated, framed, encrypted
// message stream over one peer socket. It tracks idle time and
// in-flight dispatch counts so the reactor knows exactly when it is
// safe to drop.
package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overlaymesh/core/internal/identity"
	"github.com/overlaymesh/core/internal/protocol"
	"github.com/overlaymesh/core/internal/security"
	"github.com/overlaymesh/core/internal/transport"
)

// AuthenticatedLink is a secured message channel to one peer, created
// only once mutual authentication succeeds and the remote identity is
// in the approved set. A link is eligible for removal only once
// Connected() is false and both dispatch counts have drained to zero.
type AuthenticatedLink struct {
	Info    *transport.Info
	Context *security.Context

	connected    atomic.Bool
	lastInteract atomic.Int64

	sendDispatch    atomic.Int32
	receiveDispatch atomic.Int32

	closeOnce sync.Once
	closeErr  error
}

// New wraps a completed connection and security context as a live
// link.
func New(info *transport.Info, ctx *security.Context) *AuthenticatedLink {
	l := &AuthenticatedLink{Info: info, Context: ctx}
	l.connected.Store(true)
	l.touch()
	return l
}

func (l *AuthenticatedLink) touch() {
	l.lastInteract.Store(time.Now().Unix())
}

// RemoteIdentity returns the identity of the peer this link is bound
// to.
func (l *AuthenticatedLink) RemoteIdentity() identity.Identity {
	return l.Context.RemoteIdentity
}

// Connected reports whether the link is still considered live. A
// link that has been Close()d but still has in-flight dispatches
// remains in the reactor's authenticated-connections set until those
// drain.
func (l *AuthenticatedLink) Connected() bool {
	return l.connected.Load()
}

// Removable reports whether the reactor may drop this link: not
// connected, and no send or receive dispatch is in flight.
func (l *AuthenticatedLink) Removable() bool {
	return !l.Connected() && l.sendDispatch.Load() == 0 && l.receiveDispatch.Load() == 0
}

// IdleTime returns the duration since the last successful send or
// receive.
func (l *AuthenticatedLink) IdleTime() time.Duration {
	last := time.Unix(l.lastInteract.Load(), 0)
	return time.Since(last)
}

// BeginSend marks a send dispatch as in flight. Call EndSend when it
// completes, regardless of outcome.
func (l *AuthenticatedLink) BeginSend() {
	l.sendDispatch.Add(1)
}

// EndSend marks a send dispatch as complete.
func (l *AuthenticatedLink) EndSend() {
	l.sendDispatch.Add(-1)
}

// BeginReceive marks a receive dispatch as in flight. Call EndReceive
// when it completes, regardless of outcome.
func (l *AuthenticatedLink) BeginReceive() {
	l.receiveDispatch.Add(1)
}

// EndReceive marks a receive dispatch as complete.
func (l *AuthenticatedLink) EndReceive() {
	l.receiveDispatch.Add(-1)
}

// Send encodes m, encrypts it for the remote peer, and writes it to
// the transport guard. On success it advances the outbound rolling
// token and updates last-interaction time. The send is counted as
// in-flight for the duration of the call, so Removable cannot observe
// a link as droppable while a write is still on the wire.
func (l *AuthenticatedLink) Send(m protocol.Message) error {
	l.BeginSend()
	defer l.EndSend()

	encoded, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	ciphertext, token, err := l.Context.SealOutbound(encoded)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}

	frame := appendToken(token, ciphertext)
	if err := l.Info.Guard.Send(frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}

	l.Context.AdvanceOutbound()
	l.touch()
	return nil
}

// Receive reads one frame from the transport guard, verifies its
// token and decrypts it, then decodes the message. On success it
// advances the inbound rolling token and updates last-interaction
// time.
func (l *AuthenticatedLink) Receive() (protocol.Message, error) {
	frame, err := l.Info.Guard.Receive()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("receive frame: %w", err)
	}

	token, ciphertext, err := splitToken(frame)
	if err != nil {
		return protocol.Message{}, err
	}

	plaintext, err := l.Context.OpenInbound(ciphertext, token)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("open frame: %w", err)
	}

	m, err := protocol.Decode(plaintext)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("decode message: %w", err)
	}

	l.Context.AdvanceInbound()
	l.touch()
	return m, nil
}

// Close cancels pending I/O by closing the underlying socket and
// marks the link disconnected. The link still is not removable until
// dispatch counts reach zero. Calling Close more than once is safe.
func (l *AuthenticatedLink) Close() error {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		l.closeErr = l.Info.Guard.Close()
	})
	return l.closeErr
}

func appendToken(token security.RollingToken, ciphertext []byte) []byte {
	out := make([]byte, 0, security.TokenSize+len(ciphertext))
	out = append(out, token.Bytes()...)
	return append(out, ciphertext...)
}

func splitToken(frame []byte) (security.RollingToken, []byte, error) {
	if len(frame) < security.TokenSize {
		return security.RollingToken{}, nil, fmt.Errorf("frame of %d bytes shorter than token size %d", len(frame), security.TokenSize)
	}
	return security.NewRollingToken(frame[:security.TokenSize]), frame[security.TokenSize:], nil
}
