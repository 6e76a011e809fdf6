package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"Press3/internal/registry"
)

// Signer produces signatures for transaction payloads.
// Sign may block indefinitely pending external approval; callers bound it with ctx.
type Signer interface {
	Address() registry.Identity
	PublicKey() ed25519.PublicKey
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Ed25519Signer signs with an in-memory Ed25519 key.
type Ed25519Signer struct {
	priv    ed25519.PrivateKey // priv is the signing key
	address registry.Identity  // address is derived from the public key
}

// NewEd25519Signer wraps a private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)

	return &Ed25519Signer{
		priv:    priv,
		address: registry.AddressFromPublicKey(pub),
	}
}

// GenerateSigner creates a signer with a random key.
func GenerateSigner() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return NewEd25519Signer(priv), nil
}

// Address returns the ledger address of the key.
func (s *Ed25519Signer) Address() registry.Identity {
	return s.address
}

// PublicKey returns the Ed25519 public key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Sign signs payload. It never blocks.
func (s *Ed25519Signer) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ed25519.Sign(s.priv, payload), nil
}

// ParsePrivateKey decodes a publisher secret. Accepted forms:
// 0x-prefixed hex, "ed25519:"-prefixed hex or base64, and bare base64.
// The decoded bytes are either a 32-byte seed or a 64-byte private key.
func ParsePrivateKey(secret string) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("publisher key is empty")
	}

	trimmed = strings.TrimPrefix(trimmed, "ed25519:")

	var (
		raw []byte
		err error
	)

	if strings.HasPrefix(trimmed, "0x") {
		raw, err = hex.DecodeString(trimmed[2:])
	} else {
		raw, err = base64.StdEncoding.DecodeString(trimmed)
	}

	if err != nil {
		return nil, fmt.Errorf("unable to parse publisher key:\n%w", err)
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("invalid key size: got %d, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// LoadOrGenerateKey loads a raw private key file, creating it when missing.
func LoadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
