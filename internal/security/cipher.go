package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// maxPlaintextChunk returns the largest plaintext block OAEP-SHA256 can
// seal for the given key size.
func maxPlaintextChunk(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// Encrypt RSA-encrypts payload in chunks sized to the recipient's key,
// using OAEP-SHA256. The result is the concatenation of fixed-size
// ciphertext chunks (pub.Size() bytes each), decoded back to variable
// length chunks on the receiving side by chunk count alone since every
// ciphertext chunk has identical width.
func Encrypt(pub *rsa.PublicKey, payload []byte) ([]byte, error) {
	chunkSize := maxPlaintextChunk(pub)
	if chunkSize <= 0 {
		return nil, fmt.Errorf("rsa key too small to encrypt")
	}

	if len(payload) == 0 {
		chunk, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("encrypt empty chunk: %w", err)
		}
		return chunk, nil
	}

	var out []byte
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, payload[offset:end], nil)
		if err != nil {
			return nil, fmt.Errorf("encrypt chunk at offset %d: %w", offset, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Decrypt reverses Encrypt, splitting ciphertext into priv's key-sized
// chunks and decrypting each with OAEP-SHA256.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	chunkSize := priv.PublicKey.Size()
	if chunkSize == 0 {
		return nil, fmt.Errorf("rsa key has zero size")
	}
	if len(ciphertext)%chunkSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of chunk size %d", len(ciphertext), chunkSize)
	}

	var out []byte
	for offset := 0; offset < len(ciphertext); offset += chunkSize {
		chunk := ciphertext[offset : offset+chunkSize]
		plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, chunk, nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt chunk at offset %d: %w", offset, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

// Sign produces a PSS signature over message using priv. Used by the
// mutual authenticator to prove possession of a private key.
func Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("sign transcript: %w", err)
	}
	return sig, nil
}

// Verify checks a PSS signature over message against pub.
func Verify(pub *rsa.PublicKey, message, signature []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, nil) == nil
}
