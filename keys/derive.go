package keys

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/ed25519"

	"xdao.co/certledger/address"
)

const kdfLabel = "certledger-keys-v1"

// GenerateSeed reads a fresh Ed25519 seed from rand.
func GenerateSeed(rand io.Reader) ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// IdentityFromSeed returns the public identity of an Ed25519 seed.
func IdentityFromSeed(seed []byte) (address.Address, error) {
	if len(seed) != ed25519.SeedSize {
		return address.Zero, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return address.FromBytes(pub)
}

// DeriveRoleSeed deterministically derives a role-specific seed from a root seed.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(kdfLabel))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	return sum[:ed25519.SeedSize], nil
}
