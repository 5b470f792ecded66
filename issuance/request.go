package issuance

import (
	"encoding/binary"

	"xdao.co/certledger/address"
	"xdao.co/certledger/record"
)

// MessagePrefix starts every issuance signing message.
const MessagePrefix = "certledger-issue-v1\n"

// Request is the caller-supplied part of an issuance. The issuer is never
// part of it; it comes from the verified authority proof.
type Request struct {
	InstitutionID   string  `json:"institution_id"`
	InstitutionName string  `json:"institution_name"`
	CandidateID     string  `json:"candidate_id"`
	CandidateName   string  `json:"candidate_name"`
	IssuedAt        int64   `json:"issued_at"`
	Description     string  `json:"description"`
	URI             *string `json:"uri,omitempty"`
}

// Certificate builds the record that r populates, stamped with issuer.
func (r Request) Certificate(issuer address.Address) *record.Certificate {
	c := &record.Certificate{
		Issuer:          issuer,
		InstitutionID:   r.InstitutionID,
		InstitutionName: r.InstitutionName,
		CandidateID:     r.CandidateID,
		CandidateName:   r.CandidateName,
		IssuedAt:        r.IssuedAt,
		Description:     r.Description,
	}
	if r.URI != nil {
		c.URI = record.StringPtr(*r.URI)
	}
	return c
}

// Validate checks field budgets and encoding without touching storage.
func (r Request) Validate() error {
	return r.Certificate(address.Zero).Validate()
}

// SigningMessage is the canonical byte string an authority signs.
//
// Fields appear in record order, each u32 little-endian length-prefixed;
// issued_at is 8 bytes little-endian; the URI is a presence byte followed,
// when present, by its prefixed bytes.
func (r Request) SigningMessage() []byte {
	buf := make([]byte, 0, len(MessagePrefix)+record.RequiredSize())
	buf = append(buf, MessagePrefix...)
	buf = appendField(buf, r.InstitutionID)
	buf = appendField(buf, r.InstitutionName)
	buf = appendField(buf, r.CandidateID)
	buf = appendField(buf, r.CandidateName)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.IssuedAt))
	buf = appendField(buf, r.Description)
	if r.URI == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendField(buf, *r.URI)
}

func appendField(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
