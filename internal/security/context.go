package security

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/overlaymesh/core/internal/identity"
)

// ErrTokenMismatch is returned when an inbound frame's attached token
// does not equal the locally-computed expected value.
var ErrTokenMismatch = errors.New("rolling token mismatch")

// Context is the per-link security state: the local private key, the
// rolling tokens for each direction, and the remote's public key and
// identity. It is produced once by a successful mutual authentication
// and then lives for as long as the link does.
//
// Invariant: after the n-th successful send, LocalToken here equals
// the peer's RemoteToken on its mirror Context, and vice versa.
type Context struct {
	LocalPrivateKey *rsa.PrivateKey
	LocalToken      RollingToken
	RemotePublicKey *rsa.PublicKey
	RemoteToken     RollingToken
	RemoteIdentity  identity.Identity
}

// NewContext builds a Context from the outcome of a completed mutual
// authentication. localSeed seeds LocalToken, this side's own outbound
// token; the authenticator passes the seed it received from the peer.
// remoteSeed seeds RemoteToken, the expected value this side checks
// incoming frames against; the authenticator passes the seed this side
// generated and sent. This follows the seed-direction rule: the seed
// used to protect a direction is chosen by the receiver on that
// direction.
func NewContext(localPrivateKey *rsa.PrivateKey, localSeed []byte, remotePublicKey *rsa.PublicKey, remoteSeed []byte, remoteIdentity identity.Identity) *Context {
	return &Context{
		LocalPrivateKey: localPrivateKey,
		LocalToken:      NewRollingToken(localSeed),
		RemotePublicKey: remotePublicKey,
		RemoteToken:     NewRollingToken(remoteSeed),
		RemoteIdentity:  remoteIdentity,
	}
}

// SealOutbound encrypts payload for the remote peer and returns the
// ciphertext along with the current outbound token value to attach as
// authenticated data. The caller must call AdvanceOutbound only after
// the send has been confirmed.
func (c *Context) SealOutbound(payload []byte) (ciphertext []byte, token RollingToken, err error) {
	ciphertext, err = Encrypt(c.RemotePublicKey, payload)
	if err != nil {
		return nil, RollingToken{}, fmt.Errorf("seal outbound frame: %w", err)
	}
	return ciphertext, c.LocalToken, nil
}

// AdvanceOutbound advances the local (send-direction) token. Must be
// called exactly once per accepted outbound frame, atomically with the
// send commit.
func (c *Context) AdvanceOutbound() {
	c.LocalToken = c.LocalToken.Advance()
}

// OpenInbound verifies the attached token against the expected
// inbound value and, on match, decrypts the ciphertext with the local
// private key. On success the caller must call AdvanceInbound exactly
// once, atomically with accepting the frame.
func (c *Context) OpenInbound(ciphertext []byte, attachedToken RollingToken) ([]byte, error) {
	if !bytes.Equal(attachedToken[:], c.RemoteToken[:]) {
		return nil, ErrTokenMismatch
	}
	plaintext, err := Decrypt(c.LocalPrivateKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open inbound frame: %w", err)
	}
	return plaintext, nil
}

// AdvanceInbound advances the remote (receive-direction) token. Must
// be called exactly once per accepted inbound frame.
func (c *Context) AdvanceInbound() {
	c.RemoteToken = c.RemoteToken.Advance()
}
