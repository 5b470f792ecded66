package record

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"xdao.co/certledger/certerr"
)

// Validate checks every string field against its budget without encoding.
func (c *Certificate) Validate() error {
	if c == nil {
		return certerr.New(certerr.KindInvalidInput, "CERT-ENC-003", "record: nil certificate")
	}
	for i, v := range c.values() {
		f := Fields[i]
		if v == nil {
			continue
		}
		if len(*v) > f.Max {
			return certerr.New(certerr.KindInputTooLarge, "CERT-ENC-001",
				fmt.Sprintf("record: %s is %d bytes, max %d", f.Name, len(*v), f.Max))
		}
		if !utf8.ValidString(*v) {
			return certerr.New(certerr.KindInvalidInput, "CERT-ENC-002",
				fmt.Sprintf("record: %s is not valid UTF-8", f.Name))
		}
	}
	return nil
}

// Encode serializes c in layout order. Each string carries its actual length.
// The result is at most RequiredSize bytes.
func Encode(c *Certificate) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, RequiredSize())
	buf = append(buf, Discriminator[:]...)
	buf = append(buf, c.Issuer[:]...)
	buf = appendString(buf, c.InstitutionID)
	buf = appendString(buf, c.InstitutionName)
	buf = appendString(buf, c.CandidateID)
	buf = appendString(buf, c.CandidateName)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.IssuedAt))
	buf = appendString(buf, c.Description)
	if c.URI == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = appendString(buf, *c.URI)
	}
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Decode is the inverse of Encode. Trailing zero padding is accepted.
func Decode(b []byte) (*Certificate, error) {
	d := decoder{buf: b}

	disc, err := d.take(DiscriminatorSize, "discriminator")
	if err != nil {
		return nil, err
	}
	if string(disc) != string(Discriminator[:]) {
		return nil, certerr.New(certerr.KindDecoding, "CERT-DEC-002", "record: discriminator mismatch")
	}

	var c Certificate
	issuer, err := d.take(IssuerSize, "issuer")
	if err != nil {
		return nil, err
	}
	copy(c.Issuer[:], issuer)

	if c.InstitutionID, err = d.str(Fields[0]); err != nil {
		return nil, err
	}
	if c.InstitutionName, err = d.str(Fields[1]); err != nil {
		return nil, err
	}
	if c.CandidateID, err = d.str(Fields[2]); err != nil {
		return nil, err
	}
	if c.CandidateName, err = d.str(Fields[3]); err != nil {
		return nil, err
	}
	ts, err := d.take(IssuedAtSize, "issued_at")
	if err != nil {
		return nil, err
	}
	c.IssuedAt = int64(binary.LittleEndian.Uint64(ts))
	if c.Description, err = d.str(Fields[4]); err != nil {
		return nil, err
	}

	flag, err := d.take(PresenceSize, "uri presence")
	if err != nil {
		return nil, err
	}
	switch flag[0] {
	case 0:
	case 1:
		uri, err := d.str(Fields[5])
		if err != nil {
			return nil, err
		}
		c.URI = &uri
	default:
		return nil, certerr.New(certerr.KindDecoding, "CERT-DEC-006",
			fmt.Sprintf("record: invalid uri presence byte %d", flag[0]))
	}

	for _, x := range b[d.off:] {
		if x != 0 {
			return nil, certerr.New(certerr.KindDecoding, "CERT-DEC-007", "record: non-zero bytes after record")
		}
	}
	return &c, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) take(n int, what string) ([]byte, error) {
	if len(d.buf)-d.off < n {
		return nil, certerr.New(certerr.KindDecoding, "CERT-DEC-001",
			fmt.Sprintf("record: truncated reading %s", what))
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) str(f StringField) (string, error) {
	lb, err := d.take(LengthPrefixSize, f.Name+" length")
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lb)
	if uint64(n) > uint64(len(d.buf)-d.off) {
		return "", certerr.New(certerr.KindDecoding, "CERT-DEC-003",
			fmt.Sprintf("record: %s length %d exceeds remaining %d bytes", f.Name, n, len(d.buf)-d.off))
	}
	if int(n) > f.Max {
		return "", certerr.New(certerr.KindDecoding, "CERT-DEC-004",
			fmt.Sprintf("record: %s length %d exceeds budget %d", f.Name, n, f.Max))
	}
	raw, _ := d.take(int(n), f.Name)
	if !utf8.Valid(raw) {
		return "", certerr.New(certerr.KindDecoding, "CERT-DEC-005",
			fmt.Sprintf("record: %s is not valid UTF-8", f.Name))
	}
	return string(raw), nil
}
