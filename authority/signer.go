package authority

import (
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"

	"xdao.co/certledger/address"
)

// Signer produces proofs from an Ed25519 seed.
type Signer struct {
	key     ed25519.PrivateKey
	id      address.Address
	HashAlg string
}

// NewSigner derives a signer from a 32-byte seed.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("authority: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	pub := key.Public().(ed25519.PublicKey)
	id, err := address.FromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, id: id, HashAlg: DefaultHashAlg}, nil
}

// Identity is the public identity the signer proves.
func (s *Signer) Identity() address.Address { return s.id }

// PrivateKey exposes the key for token signing.
func (s *Signer) PrivateKey() ed25519.PrivateKey { return s.key }

// Prove signs message as the authority, with the authority also paying.
func (s *Signer) Prove(message []byte) (Proof, error) {
	digest, err := digestFor(s.HashAlg, message)
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		Authority: s.id,
		HashAlg:   s.HashAlg,
		Signature: ed25519.SignWithCtx(s.key, digest, IssueContext),
	}, nil
}

// CoSign adds s as the payer of p.
func (s *Signer) CoSign(p *Proof, message []byte) error {
	digest, err := digestFor(p.HashAlg, message)
	if err != nil {
		return err
	}
	p.Payer = s.id
	p.PayerSignature = ed25519.SignWithCtx(s.key, digest, PayContext)
	return nil
}
