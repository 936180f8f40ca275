// Package security implements the rolling-token transmission security
// manager: per-direction evolving nonces bound to every frame, plus
// RSA chunked encryption of frame payloads.
package security

import (
	"crypto/sha256"
)

// TokenSize is the width in bytes of a rolling token.
const TokenSize = 32

// RollingToken is an evolving nonce. It starts from a random seed and
// advances deterministically, once per successful frame in its
// direction, by hashing its current value.
type RollingToken [TokenSize]byte

// NewRollingToken wraps a seed as the initial token value. The seed
// must be TokenSize bytes.
func NewRollingToken(seed []byte) RollingToken {
	var t RollingToken
	copy(t[:], seed)
	return t
}

// Advance derives the next token value from the current one. Both
// sides of a direction must call this exactly once per accepted frame,
// so their views stay identical.
func (t RollingToken) Advance() RollingToken {
	return RollingToken(sha256.Sum256(t[:]))
}

// Bytes returns the token's raw byte representation.
func (t RollingToken) Bytes() []byte {
	return t[:]
}

// Equal reports whether two tokens hold the same value.
func (t RollingToken) Equal(other RollingToken) bool {
	return t == other
}
