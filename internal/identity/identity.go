// Package identity manages RSA keypairs and the base64 public-key
// strings that name clients on the mesh.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeyBits is the RSA modulus size used for generated keypairs.
const KeyBits = 2048

var (
	// ErrInvalidIdentity is returned when a base64 string does not decode
	// to a well-formed RSA public key.
	ErrInvalidIdentity = errors.New("invalid identity: not a valid base64 RSA public key")

	// ZeroIdentity represents an unset identity.
	ZeroIdentity = Identity{}
)

// Identity is the base64 encoding of a client's DER-encoded RSA public
// key. It is globally unique per client and is what flows over the wire
// and appears in configuration (approved_identities).
type Identity struct {
	value string
}

// FromPublicKey derives the Identity string for an RSA public key.
func FromPublicKey(pub *rsa.PublicKey) (Identity, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ZeroIdentity, fmt.Errorf("marshal public key: %w", err)
	}
	return Identity{value: base64.StdEncoding.EncodeToString(der)}, nil
}

// Parse validates and wraps a base64 public-key string as an Identity.
func Parse(s string) (Identity, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ZeroIdentity, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return ZeroIdentity, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if _, ok := pub.(*rsa.PublicKey); !ok {
		return ZeroIdentity, fmt.Errorf("%w: not an RSA key", ErrInvalidIdentity)
	}
	return Identity{value: s}, nil
}

// PublicKey decodes the wrapped base64 string back into an RSA public key.
func (id Identity) PublicKey() (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(id.value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidIdentity)
	}
	return rsaPub, nil
}

// String returns the full base64 representation of the identity.
func (id Identity) String() string {
	return id.value
}

// ShortString returns a shortened representation for logging (first 12
// chars of the SHA-256 fingerprint, hex-like but base64 to stay terse).
func (id Identity) ShortString() string {
	if id.value == "" {
		return "<zero>"
	}
	sum := sha256.Sum256([]byte(id.value))
	return base64.RawURLEncoding.EncodeToString(sum[:9])
}

// IsZero returns true if the Identity is unset.
func (id Identity) IsZero() bool {
	return id.value == ""
}

// Equal returns true if two identities name the same client.
func (id Identity) Equal(other Identity) bool {
	return id.value == other.value
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// KeyPair holds an RSA private key together with the Identity derived
// from its public half.
type KeyPair struct {
	Identity   Identity
	PrivateKey *rsa.PrivateKey
}

// Generate creates a new random RSA keypair.
func Generate() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	id, err := FromPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Identity: id, PrivateKey: priv}, nil
}

const (
	keyFileName = "identity.pem"
)

// Store persists the private key to dataDir as a PKCS#1 PEM file, using
// a write-to-temp-then-rename so a crash never leaves a partial file.
func (kp *KeyPair) Store(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.PrivateKey),
	}

	filePath := filepath.Join(dataDir, keyFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("write identity key: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persist identity key: %w", err)
	}
	return nil
}

// Load reads a KeyPair previously persisted with Store.
func Load(dataDir string) (*KeyPair, error) {
	filePath := filepath.Join(dataDir, keyFileName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in %s", ErrInvalidIdentity, filePath)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse identity key: %w", err)
	}
	id, err := FromPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Identity: id, PrivateKey: priv}, nil
}

// LoadOrCreate loads an existing keypair from dataDir, or generates and
// persists a new one if none exists.
func LoadOrCreate(dataDir string) (*KeyPair, bool, error) {
	kp, err := Load(dataDir)
	if err == nil {
		return kp, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	kp, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := kp.Store(dataDir); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// Exists checks if a persisted keypair exists in dataDir.
func Exists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, keyFileName))
	return err == nil
}
