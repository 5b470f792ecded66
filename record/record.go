// Package record defines the certificate record and its fixed binary layout.
//
// Layout (all integers little-endian):
//
//	discriminator    8 bytes  sha256("account:Certificate")[:8]
//	issuer          32 bytes
//	institution_id   u32 length + bytes (max 32)
//	institution_name u32 length + bytes (max 64)
//	candidate_id     u32 length + bytes (max 32)
//	candidate_name   u32 length + bytes (max 64)
//	issued_at        i64
//	description      u32 length + bytes (max 128)
//	uri              u8 presence, then u32 length + bytes (max 200) when present
//
// Stored regions are sized by RequiredSize and zero-padded after the encoded bytes.
package record

import (
	"crypto/sha256"

	"xdao.co/certledger/address"
)

// Field byte budgets.
const (
	MaxInstitutionID   = 32
	MaxInstitutionName = 64
	MaxCandidateID     = 32
	MaxCandidateName   = 64
	MaxDescription     = 128
	MaxURI             = 200
)

const (
	DiscriminatorSize = 8
	IssuerSize        = address.Size
	IssuedAtSize      = 8
	LengthPrefixSize  = 4
	PresenceSize      = 1
)

// Discriminator tags every stored certificate region.
var Discriminator = func() [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:Certificate"))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}()

// Certificate is the sole stored entity.
//
// Issuer is never taken from the caller; the issuance engine stamps it from
// the validated authority.
type Certificate struct {
	Issuer          address.Address `json:"issuer"`
	InstitutionID   string          `json:"institution_id"`
	InstitutionName string          `json:"institution_name"`
	CandidateID     string          `json:"candidate_id"`
	CandidateName   string          `json:"candidate_name"`
	IssuedAt        int64           `json:"issued_at"`
	Description     string          `json:"description"`
	URI             *string         `json:"uri,omitempty"`
}

// StringField names a variable-length field and its budget.
type StringField struct {
	Name     string
	Max      int
	Optional bool
}

// Fields lists the variable-length fields in layout order.
var Fields = []StringField{
	{Name: "institution_id", Max: MaxInstitutionID},
	{Name: "institution_name", Max: MaxInstitutionName},
	{Name: "candidate_id", Max: MaxCandidateID},
	{Name: "candidate_name", Max: MaxCandidateName},
	{Name: "description", Max: MaxDescription},
	{Name: "uri", Max: MaxURI, Optional: true},
}

var requiredSize = func() int {
	n := DiscriminatorSize + IssuerSize + IssuedAtSize
	for _, f := range Fields {
		n += LengthPrefixSize + f.Max
		if f.Optional {
			n += PresenceSize
		}
	}
	return n
}()

// RequiredSize is the number of bytes a stored certificate region occupies.
//
// It depends only on the layout, so storage can be reserved before the
// request contents are known.
func RequiredSize() int { return requiredSize }

// StringPtr returns a pointer to s, for populating URI.
func StringPtr(s string) *string { return &s }

// URIValue returns the URI or "" when absent.
func (c *Certificate) URIValue() string {
	if c == nil || c.URI == nil {
		return ""
	}
	return *c.URI
}

// Equal reports whether two certificates hold the same values.
func (c *Certificate) Equal(o *Certificate) bool {
	if c == nil || o == nil {
		return c == o
	}
	if (c.URI == nil) != (o.URI == nil) {
		return false
	}
	if c.URI != nil && *c.URI != *o.URI {
		return false
	}
	return c.Issuer == o.Issuer &&
		c.InstitutionID == o.InstitutionID &&
		c.InstitutionName == o.InstitutionName &&
		c.CandidateID == o.CandidateID &&
		c.CandidateName == o.CandidateName &&
		c.IssuedAt == o.IssuedAt &&
		c.Description == o.Description
}

func (c *Certificate) values() []*string {
	return []*string{
		&c.InstitutionID,
		&c.InstitutionName,
		&c.CandidateID,
		&c.CandidateName,
		&c.Description,
		c.URI,
	}
}
