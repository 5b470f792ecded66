// Package authority validates the signed proofs that authorize an issuance.
//
// An authority signs a digest of the issuance message with Ed25519ctx. When
// a separate payer funds the storage, the payer co-signs the same digest
// under a different context, so neither signature can stand in for the other.
package authority

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
	"golang.org/x/crypto/sha3"

	"xdao.co/certledger/address"
	"xdao.co/certledger/certerr"
)

const (
	// IssueContext is the Ed25519ctx context of the authority signature.
	IssueContext = "certledger-issue-v1"
	// PayContext is the Ed25519ctx context of the payer co-signature.
	PayContext = "certledger-pay-v1"

	DefaultHashAlg = "sha256"
)

// Proof is the caller-supplied evidence for an issuance.
//
// A zero Payer means the authority pays, and PayerSignature is ignored.
type Proof struct {
	Authority      address.Address `json:"authority"`
	Payer          address.Address `json:"payer"`
	HashAlg        string          `json:"hash_alg,omitempty"`
	Signature      []byte          `json:"signature"`
	PayerSignature []byte          `json:"payer_signature,omitempty"`
}

// Grant is the outcome of a successful verification.
type Grant struct {
	// Issuer is the identity stamped into the record.
	Issuer address.Address
	// Payer funds the storage region.
	Payer address.Address
}

// Policy may reject an otherwise valid grant. A nil Policy accepts every signer.
type Policy func(Grant) error

// Verifier checks proofs against issuance messages.
type Verifier struct {
	Policy Policy
}

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "", "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, certerr.New(certerr.KindAuthorization, "CERT-AUTH-003",
			fmt.Sprintf("authority: unsupported hash algorithm %q", hashAlg))
	}
}

// Verify validates p over message and returns the identities it establishes.
func (v Verifier) Verify(message []byte, p Proof) (Grant, error) {
	if p.Authority.IsZero() {
		return Grant{}, certerr.New(certerr.KindAuthorization, "CERT-AUTH-001", "authority: missing authority identity")
	}
	digest, err := digestFor(p.HashAlg, message)
	if err != nil {
		return Grant{}, err
	}
	if len(p.Signature) != ed25519.SignatureSize ||
		!ed25519.VerifyWithCtx(ed25519.PublicKey(p.Authority[:]), digest, p.Signature, IssueContext) {
		return Grant{}, certerr.New(certerr.KindAuthorization, "CERT-AUTH-002", "authority: invalid authority signature")
	}

	g := Grant{Issuer: p.Authority, Payer: p.Authority}
	if !p.Payer.IsZero() && p.Payer != p.Authority {
		if len(p.PayerSignature) != ed25519.SignatureSize ||
			!ed25519.VerifyWithCtx(ed25519.PublicKey(p.Payer[:]), digest, p.PayerSignature, PayContext) {
			return Grant{}, certerr.New(certerr.KindAuthorization, "CERT-AUTH-004", "authority: payer did not authorize the allocation")
		}
		g.Payer = p.Payer
	}

	if v.Policy != nil {
		if err := v.Policy(g); err != nil {
			return Grant{}, certerr.Wrap(certerr.KindAuthorization, "CERT-AUTH-005", "authority: rejected by policy", err)
		}
	}
	return g, nil
}
