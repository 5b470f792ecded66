// Package storage defines the substrate contract that certificate regions
// are allocated in, plus backend-independent helpers.
package storage

import (
	"context"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
)

// MaxRegionSize bounds the size of a single region in every backend.
const MaxRegionSize = 1 << 20

// Store is the storage substrate certificate regions are allocated in.
//
// Contract:
// - Create MUST be an atomic create-if-absent: among concurrent Creates for one
//   address at most one succeeds, all others get ErrAlreadyExists.
// - Exists MUST report true for an address from the moment Create succeeds
//   until the handle is discarded.
// - A region is exactly the requested size and zero-filled past written data.
// - Read MUST return ErrNotFound until the region's handle has been written.
// - Written regions are immutable. There is no update or delete.
type Store interface {
	Exists(ctx context.Context, addr address.Address) (bool, error)
	Create(ctx context.Context, addr address.Address, size int, payer address.Address) (Handle, error)
	Read(ctx context.Context, addr address.Address) ([]byte, error)
}

// Handle is a writable region returned by Create. It is scoped to a single
// issuance and must end in exactly one of Write or Discard.
type Handle interface {
	Address() address.Address
	Size() int
	// Write stores data at offset 0 and makes the region visible to Read.
	// len(data) must not exceed Size.
	Write(ctx context.Context, data []byte) error
	// Discard releases a region that was never written, freeing its address.
	// It is a no-op after a successful Write.
	Discard(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate written regions.
// Addresses are returned in ascending byte order.
type Lister interface {
	List(ctx context.Context) ([]address.Address, error)
}

// Authorization is the signed issuance request an allocation is made for.
type Authorization struct {
	Message []byte
	Proof   authority.Proof
}

// AuthorizingCreator is implemented by stores that check the issuance
// authority themselves, such as a remote store service. Allocation goes
// through CreateAuthorized instead of Create when it is available.
type AuthorizingCreator interface {
	CreateAuthorized(ctx context.Context, addr address.Address, size int, payer address.Address, auth Authorization) (Handle, error)
}

// CheckCreate validates Create arguments common to all backends.
func CheckCreate(addr address.Address, size int, payer address.Address) error {
	if addr.IsZero() {
		return ErrInvalidAddress
	}
	if payer.IsZero() {
		return ErrMissingPayer
	}
	if size <= 0 || size > MaxRegionSize {
		return ErrInvalidSize
	}
	return nil
}

// CheckWrite validates Write arguments common to all backends.
func CheckWrite(size int, data []byte) error {
	if len(data) > size {
		return ErrRegionOverflow
	}
	return nil
}

// Pad returns data zero-extended to size.
func Pad(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}
