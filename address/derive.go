package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeedLen is the maximum length of a single derivation seed.
	MaxSeedLen = 32
	// MaxSeeds is the maximum number of seeds, including the bump seed.
	MaxSeeds = 16

	// CertificateTag is the domain tag that prefixes every certificate seed list.
	CertificateTag = "certificate"

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLength = errors.New("address: seed exceeds maximum length")
	ErrTooManySeeds  = errors.New("address: too many seeds")
	ErrOnCurve       = errors.New("address: derived address lies on the ed25519 curve")
	ErrNoViableBump  = errors.New("address: no viable bump seed")
)

// DefaultProgramID namespaces certificate addresses when no program id is configured.
var DefaultProgramID = MustParse("9nF17epkj1esEvgx4JpkviUfn2XbEheBDUsiuqAt6ogc")

// IsOnCurve reports whether b decodes as a point on the ed25519 curve.
//
// Derived addresses must not be on the curve so that no private key can
// exist for them.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds under programID.
//
// The address is sha256(seed_0 || ... || seed_n || programID || "ProgramDerivedAddress").
// It fails with ErrOnCurve when the digest is a valid curve point.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrTooManySeeds
	}
	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return Zero, fmt.Errorf("%w: seed %d is %d bytes", ErrMaxSeedLength, i, len(s))
		}
		_, _ = h.Write(s)
	}
	_, _ = h.Write(programID[:])
	_, _ = h.Write([]byte(pdaMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return Zero, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 down to 0 and returns the
// first off-curve address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Zero, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = byte(b)
		a, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return a, uint8(b), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Zero, 0, err
		}
	}
	return Zero, 0, ErrNoViableBump
}

// CertificateSeeds returns the derivation seeds for an issuance key.
//
// The layout is: tag, len(institutionID), institutionID, len(candidateID),
// candidateID, issuedAt as 8-byte little-endian two's complement. The length
// seeds keep ("MIT","X") and ("MI","TX") apart.
func CertificateSeeds(institutionID, candidateID string, issuedAt int64) ([][]byte, error) {
	if len(institutionID) > MaxSeedLen {
		return nil, fmt.Errorf("%w: institution id is %d bytes", ErrMaxSeedLength, len(institutionID))
	}
	if len(candidateID) > MaxSeedLen {
		return nil, fmt.Errorf("%w: candidate id is %d bytes", ErrMaxSeedLength, len(candidateID))
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(issuedAt))
	return [][]byte{
		[]byte(CertificateTag),
		{byte(len(institutionID))},
		[]byte(institutionID),
		{byte(len(candidateID))},
		[]byte(candidateID),
		ts[:],
	}, nil
}

// DeriveCertificate returns the storage address and bump for an issuance key.
// It is a pure function of its inputs.
func DeriveCertificate(programID Address, institutionID, candidateID string, issuedAt int64) (Address, uint8, error) {
	seeds, err := CertificateSeeds(institutionID, candidateID, issuedAt)
	if err != nil {
		return Zero, 0, err
	}
	return FindProgramAddress(seeds, programID)
}
