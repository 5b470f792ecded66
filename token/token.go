// Package token mints and checks verification tokens for issued certificates.
//
// A token is an EdDSA JWT signed by the ledger's attestation key. It is only
// a pointer: Verify always re-reads the certificate and compares it with the
// claims, so a token never outlives tampering with the stored record.
package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/issuance"
)

// Claims carried by a verification token.
type Claims struct {
	// Authority is the issuer stamped in the certificate.
	Authority   string `json:"auth"`
	CID         string `json:"cid"`
	Institution string `json:"inst"`
	Candidate   string `json:"cand"`
	IssuedAt    int64  `json:"issued_at"`
	jwt.RegisteredClaims
}

// Fetcher returns the certificate stored at an address.
// *issuance.Engine implements it.
type Fetcher interface {
	Fetch(ctx context.Context, addr address.Address) (*issuance.Issued, error)
}

// Service handles token generation and verification.
type Service struct {
	key ed25519.PrivateKey
	pub ed25519.PublicKey
	id  address.Address

	// TTL bounds token lifetime. Zero means tokens do not expire.
	TTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

var _ issuance.Minter = (*Service)(nil)

// NewService creates a token service from a 32-byte attestation seed.
func NewService(seed []byte) (*Service, error) {
	s, err := authority.NewSigner(seed)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	key := ed25519.PrivateKey(s.PrivateKey())
	slog.Debug("token service initialized", "attestor", s.Identity().String())
	return &Service{
		key: key,
		pub: key.Public().(ed25519.PublicKey),
		id:  s.Identity(),
	}, nil
}

// Attestor is the identity tokens are signed by.
func (s *Service) Attestor() address.Address { return s.id }

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Mint signs a token for a freshly issued certificate.
func (s *Service) Mint(is *issuance.Issued) (string, error) {
	if is == nil || is.Record == nil {
		return "", errors.New("token: nothing to mint for")
	}
	now := s.now()
	claims := Claims{
		Authority:   is.Record.Issuer.String(),
		CID:         is.ContentCID.String(),
		Institution: is.Record.InstitutionID,
		Candidate:   is.Record.CandidateID,
		IssuedAt:    is.Record.IssuedAt,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.id.String(),
			Subject:  is.Address.String(),
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if s.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.TTL))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("token: failed to sign: %w", err)
	}
	slog.Debug("verification token minted", "subject", claims.Subject, "jti", claims.ID)
	return signed, nil
}

// Verify checks the token signature, then fetches the certificate it names
// and requires every claim to match what is stored.
func (s *Service) Verify(ctx context.Context, tokenString string, f Fetcher) (*issuance.Issued, *Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.id.String()),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, nil, certerr.Wrap(certerr.KindAuthorization, "CERT-TOKEN-001", "token: invalid token", err)
	}

	addr, err := address.Parse(claims.Subject)
	if err != nil {
		return nil, nil, certerr.Wrap(certerr.KindAuthorization, "CERT-TOKEN-002", "token: subject is not an address", err)
	}
	is, err := f.Fetch(ctx, addr)
	if err != nil {
		return nil, nil, err
	}

	rec := is.Record
	switch {
	case claims.Authority != rec.Issuer.String():
		return nil, nil, mismatch("issuer")
	case claims.CID != is.ContentCID.String():
		return nil, nil, mismatch("content cid")
	case claims.Institution != rec.InstitutionID,
		claims.Candidate != rec.CandidateID,
		claims.IssuedAt != rec.IssuedAt:
		return nil, nil, mismatch("issuance key")
	}
	return is, claims, nil
}

func mismatch(what string) error {
	return certerr.New(certerr.KindAuthorization, "CERT-TOKEN-003",
		fmt.Sprintf("token: %s does not match the stored certificate", what))
}
