// Package memstore is an in-process storage substrate.
//
// The mutex is the create-if-absent serialization point; it is held only for
// map access, never across a caller's work.
package memstore

import (
	"context"
	"sync"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage"
)

type region struct {
	payer   address.Address
	data    []byte
	written bool
}

// Store keeps regions in memory.
type Store struct {
	mu      sync.RWMutex
	regions map[address.Address]*region
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Lister = (*Store)(nil)
)

func New() *Store {
	return &Store{regions: make(map[address.Address]*region)}
}

func (s *Store) Exists(ctx context.Context, addr address.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.regions[addr]
	return ok, nil
}

func (s *Store) Create(ctx context.Context, addr address.Address, size int, payer address.Address) (storage.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckCreate(addr, size, payer); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[addr]; ok {
		return nil, storage.ErrAlreadyExists
	}
	r := &region{payer: payer, data: make([]byte, size)}
	s.regions[addr] = r
	return &handle{s: s, addr: addr, r: r}, nil
}

func (s *Store) Read(ctx context.Context, addr address.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[addr]
	if !ok || !r.written {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), r.data...), nil
}

func (s *Store) List(ctx context.Context) ([]address.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]address.Address, 0, len(s.regions))
	for a, r := range s.regions {
		if r.written {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	storage.SortAddresses(out)
	return out, nil
}

// Payer returns the payer recorded for a written region.
func (s *Store) Payer(addr address.Address) (address.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[addr]
	if !ok || !r.written {
		return address.Zero, false
	}
	return r.payer, true
}

type handle struct {
	s    *Store
	addr address.Address
	r    *region
	done bool
}

func (h *handle) Address() address.Address { return h.addr }

func (h *handle) Size() int { return len(h.r.data) }

func (h *handle) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckWrite(len(h.r.data), data); err != nil {
		return err
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.done {
		return storage.ErrHandleClosed
	}
	copy(h.r.data, data)
	h.r.written = true
	h.done = true
	return nil
}

func (h *handle) Discard(ctx context.Context) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.done {
		return nil
	}
	h.done = true
	if h.s.regions[h.addr] == h.r {
		delete(h.s.regions, h.addr)
	}
	return nil
}
