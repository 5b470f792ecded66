// Package cidutil computes the content identifiers that make stored
// certificate regions tamper-evident.
package cidutil

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrUnsupportedCID  = errors.New("cidutil: unsupported cid (want CIDv1 raw sha2-256)")
	ErrContentMismatch = errors.New("cidutil: content does not match cid")
)

// ContentCID returns a CIDv1 (raw + sha2-256) for the stored bytes of a record.
func ContentCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Parse decodes s and requires the CIDv1 raw sha2-256 profile.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: %w", err)
	}
	pref := id.Prefix()
	if pref.Version != 1 || pref.Codec != cid.Raw || pref.MhType != multihash.SHA2_256 {
		return cid.Undef, ErrUnsupportedCID
	}
	return id, nil
}

// Verify recomputes the CID of data and compares it with want.
func Verify(want cid.Cid, data []byte) error {
	got, err := ContentCID(data)
	if err != nil {
		return err
	}
	if !got.Equals(want) {
		return ErrContentMismatch
	}
	return nil
}
