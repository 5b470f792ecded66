package issuance

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/certerr"
	"xdao.co/certledger/record"
	"xdao.co/certledger/storage"
)

var errMalformedMessage = errors.New("issuance: malformed signing message")

// ParseSigningMessage is the inverse of Request.SigningMessage.
func ParseSigningMessage(msg []byte) (Request, error) {
	var r Request
	if len(msg) < len(MessagePrefix) || string(msg[:len(MessagePrefix)]) != MessagePrefix {
		return r, errMalformedMessage
	}
	p := msgReader{b: msg[len(MessagePrefix):]}
	r.InstitutionID = p.field()
	r.InstitutionName = p.field()
	r.CandidateID = p.field()
	r.CandidateName = p.field()
	r.IssuedAt = int64(p.u64())
	r.Description = p.field()
	switch p.flag() {
	case 0:
	case 1:
		r.URI = record.StringPtr(p.field())
	default:
		p.fail()
	}
	if p.err != nil || len(p.b) != 0 {
		return Request{}, errMalformedMessage
	}
	return r, nil
}

type msgReader struct {
	b   []byte
	err error
}

func (p *msgReader) fail() { p.err = errMalformedMessage }

func (p *msgReader) take(n int) []byte {
	if p.err != nil || n < 0 || n > len(p.b) {
		p.fail()
		return nil
	}
	out := p.b[:n]
	p.b = p.b[n:]
	return out
}

func (p *msgReader) field() string {
	lb := p.take(4)
	if lb == nil {
		return ""
	}
	n := binary.LittleEndian.Uint32(lb)
	if uint64(n) > uint64(len(p.b)) {
		p.fail()
		return ""
	}
	s := p.take(int(n))
	if !utf8.Valid(s) {
		p.fail()
	}
	return string(s)
}

func (p *msgReader) u64() uint64 {
	b := p.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (p *msgReader) flag() byte {
	b := p.take(1)
	if b == nil {
		return 0xff
	}
	return b[0]
}

// Admission is an allocation that a signed request authorizes.
type Admission struct {
	Request Request
	Grant   authority.Grant
	// Region is the only content the allocated region may be written with.
	Region []byte
}

// Admit checks an allocation against the signed request it is made for:
// the proof must verify over message, addr must be the address the
// request's key derives to under programID, size must be the record size and
// payer must be the payer the proof establishes.
func Admit(auth Authorizer, programID address.Address, addr address.Address, size int, payer address.Address, message []byte, proof authority.Proof) (*Admission, error) {
	if auth == nil {
		return nil, certerr.New(certerr.KindAuthorization, "CERT-ALLOC-004", "issuance: no authorizer configured")
	}
	req, err := ParseSigningMessage(message)
	if err != nil {
		return nil, certerr.Wrap(certerr.KindInvalidInput, "CERT-ALLOC-006", err.Error(), err)
	}
	if size != record.RequiredSize() {
		return nil, certerr.Wrap(certerr.KindInvalidInput, "CERT-ALLOC-005",
			fmt.Sprintf("issuance: region size %d, want %d", size, record.RequiredSize()), storage.ErrInvalidSize)
	}
	grant, err := auth.Verify(message, proof)
	if err != nil {
		return nil, err
	}
	if grant.Payer != payer {
		return nil, certerr.New(certerr.KindAuthorization, "CERT-ALLOC-003",
			fmt.Sprintf("issuance: payer %s did not authorize the allocation", payer))
	}
	want, _, err := address.DeriveCertificate(programID, req.InstitutionID, req.CandidateID, req.IssuedAt)
	if errors.Is(err, address.ErrMaxSeedLength) {
		return nil, certerr.Wrap(certerr.KindInputTooLarge, "CERT-ADDR-001", err.Error(), err)
	}
	if err != nil {
		return nil, certerr.Wrap(certerr.KindInternal, "CERT-ADDR-002", "issuance: address derivation failed", err)
	}
	if want != addr {
		return nil, certerr.New(certerr.KindAuthorization, "CERT-ALLOC-007",
			fmt.Sprintf("issuance: request does not derive to %s", addr))
	}
	data, err := record.Encode(req.Certificate(grant.Issuer))
	if err != nil {
		return nil, err
	}
	return &Admission{Request: req, Grant: grant, Region: storage.Pad(data, size)}, nil
}
