package storage

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"xdao.co/certledger/address"
)

// Tiered allocates in a single writable Primary and falls back, in order, to
// read-only Archives on reads.
//
// Archives take part in the create-if-absent check so that an address held
// only in an archive cannot be issued a second time. Callers MUST supply a
// fixed Archives order.
type Tiered struct {
	Primary  Store
	Archives []Store
}

var (
	_ Store              = Tiered{}
	_ Lister             = Tiered{}
	_ AuthorizingCreator = Tiered{}
)

func (t Tiered) Exists(ctx context.Context, addr address.Address) (bool, error) {
	if t.Primary == nil {
		return false, errors.New("storage: Tiered has no primary")
	}
	for _, s := range t.all() {
		ok, err := s.Exists(ctx, addr)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (t Tiered) Create(ctx context.Context, addr address.Address, size int, payer address.Address) (Handle, error) {
	if err := t.checkArchives(ctx, addr); err != nil {
		return nil, err
	}
	return t.Primary.Create(ctx, addr, size, payer)
}

// CreateAuthorized passes auth on when the primary checks it and otherwise
// behaves like Create.
func (t Tiered) CreateAuthorized(ctx context.Context, addr address.Address, size int, payer address.Address, auth Authorization) (Handle, error) {
	if err := t.checkArchives(ctx, addr); err != nil {
		return nil, err
	}
	if ac, ok := t.Primary.(AuthorizingCreator); ok {
		return ac.CreateAuthorized(ctx, addr, size, payer, auth)
	}
	return t.Primary.Create(ctx, addr, size, payer)
}

func (t Tiered) checkArchives(ctx context.Context, addr address.Address) error {
	if t.Primary == nil {
		return errors.New("storage: Tiered has no primary")
	}
	for _, a := range t.Archives {
		ok, err := a.Exists(ctx, addr)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyExists
		}
	}
	return nil
}

func (t Tiered) Read(ctx context.Context, addr address.Address) ([]byte, error) {
	for _, s := range t.all() {
		b, err := s.Read(ctx, addr)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

// List merges the addresses of every tier that implements Lister.
func (t Tiered) List(ctx context.Context) ([]address.Address, error) {
	seen := make(map[address.Address]struct{})
	for _, s := range t.all() {
		l, ok := s.(Lister)
		if !ok {
			continue
		}
		addrs, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			seen[a] = struct{}{}
		}
	}
	out := make([]address.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	SortAddresses(out)
	return out, nil
}

func (t Tiered) all() []Store {
	out := make([]Store, 0, 1+len(t.Archives))
	if t.Primary != nil {
		out = append(out, t.Primary)
	}
	return append(out, t.Archives...)
}

// SortAddresses sorts addrs in ascending byte order.
func SortAddresses(addrs []address.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}
