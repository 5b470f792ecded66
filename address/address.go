// Package address defines the 32-byte identifiers used for both storage slots
// and public identities, and the deterministic derivation of certificate
// slots from their issuance key.
package address

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the byte length of an Address.
const Size = 32

var ErrInvalidAddress = errors.New("address: invalid address")

// Address is a 32-byte storage slot or public identity.
//
// Its text form is base58, matching the convention of the ledger the
// record layout was designed for.
type Address [Size]byte

// Zero is the all-zero address.
var Zero Address

// FromBytes copies b into an Address. b must be exactly Size bytes.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidAddress, Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Parse decodes the base58 text form of an address.
func Parse(s string) (Address, error) {
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return FromBytes(b)
}

// MustParse is like Parse but panics on error. Use for compile-time constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return base58.Encode(a[:]) }

func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool { return a == Zero }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
