// Package testkit provides a conformance suite for storage.Store backends.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage"
)

// NewStore constructs a fresh, empty Store for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.Store

// Addr returns a deterministic non-zero test address.
func Addr(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	a[0] = 0xA0
	return a
}

var payer = Addr(0x11)

func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateWriteRead", func(t *testing.T) {
		s := newStore(t)
		addr := Addr(1)

		h, err := s.Create(ctx, addr, 64, payer)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if h.Address() != addr || h.Size() != 64 {
			t.Fatalf("handle mismatch: addr=%s size=%d", h.Address(), h.Size())
		}
		ok, err := s.Exists(ctx, addr)
		if err != nil || !ok {
			t.Fatalf("Exists after Create: ok=%v err=%v", ok, err)
		}
		if _, err := s.Read(ctx, addr); !storage.IsNotFound(err) {
			t.Fatalf("Read before Write: got %v want ErrNotFound", err)
		}

		data := []byte("certificate bytes")
		if err := h.Write(ctx, data); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		got, err := s.Read(ctx, addr)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(got) != 64 {
			t.Fatalf("Read length: got %d want 64", len(got))
		}
		if !bytes.Equal(got, storage.Pad(data, 64)) {
			t.Fatalf("Read bytes mismatch: %q", got)
		}
		if err := h.Discard(ctx); err != nil {
			t.Fatalf("Discard after Write must be a no-op: %v", err)
		}
		if _, err := s.Read(ctx, addr); err != nil {
			t.Fatalf("Read after no-op Discard: %v", err)
		}
	})

	t.Run("CreateIsExactlyOnce", func(t *testing.T) {
		s := newStore(t)
		addr := Addr(2)

		h, err := s.Create(ctx, addr, 16, payer)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := s.Create(ctx, addr, 16, payer); !storage.IsAlreadyExists(err) {
			t.Fatalf("Create while pending: got %v want ErrAlreadyExists", err)
		}
		if err := h.Write(ctx, []byte("first")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if _, err := s.Create(ctx, addr, 16, payer); !storage.IsAlreadyExists(err) {
			t.Fatalf("Create after Write: got %v want ErrAlreadyExists", err)
		}
		got, err := s.Read(ctx, addr)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !bytes.Equal(got, storage.Pad([]byte("first"), 16)) {
			t.Fatalf("region changed after rejected Create")
		}
	})

	t.Run("DiscardFreesAddress", func(t *testing.T) {
		s := newStore(t)
		addr := Addr(3)

		h, err := s.Create(ctx, addr, 8, payer)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := h.Discard(ctx); err != nil {
			t.Fatalf("Discard failed: %v", err)
		}
		ok, err := s.Exists(ctx, addr)
		if err != nil || ok {
			t.Fatalf("Exists after Discard: ok=%v err=%v", ok, err)
		}
		if err := h.Write(ctx, []byte("x")); err == nil {
			t.Fatalf("Write after Discard must fail")
		}
		h2, err := s.Create(ctx, addr, 8, payer)
		if err != nil {
			t.Fatalf("Create after Discard: %v", err)
		}
		if err := h2.Write(ctx, []byte("second")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	})

	t.Run("WriteOnce", func(t *testing.T) {
		s := newStore(t)
		h, err := s.Create(ctx, Addr(4), 8, payer)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := h.Write(ctx, []byte("a")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := h.Write(ctx, []byte("b")); !errors.Is(err, storage.ErrHandleClosed) {
			t.Fatalf("second Write: got %v want ErrHandleClosed", err)
		}
	})

	t.Run("RejectOverflowAndBadArgs", func(t *testing.T) {
		s := newStore(t)
		h, err := s.Create(ctx, Addr(5), 4, payer)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := h.Write(ctx, []byte("12345")); !errors.Is(err, storage.ErrRegionOverflow) {
			t.Fatalf("overflow: got %v want ErrRegionOverflow", err)
		}
		_ = h.Discard(ctx)

		if _, err := s.Create(ctx, address.Zero, 4, payer); !errors.Is(err, storage.ErrInvalidAddress) {
			t.Fatalf("zero address: got %v want ErrInvalidAddress", err)
		}
		if _, err := s.Create(ctx, Addr(6), 4, address.Zero); !errors.Is(err, storage.ErrMissingPayer) {
			t.Fatalf("zero payer: got %v want ErrMissingPayer", err)
		}
		if _, err := s.Create(ctx, Addr(6), 0, payer); !errors.Is(err, storage.ErrInvalidSize) {
			t.Fatalf("zero size: got %v want ErrInvalidSize", err)
		}
		if _, err := s.Create(ctx, Addr(6), storage.MaxRegionSize+1, payer); !errors.Is(err, storage.ErrInvalidSize) {
			t.Fatalf("oversized region: got %v want ErrInvalidSize", err)
		}
		if ok, _ := s.Exists(ctx, Addr(6)); ok {
			t.Fatalf("rejected create left the address taken")
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Read(ctx, Addr(7)); !storage.IsNotFound(err) {
			t.Fatalf("Read missing: got %v want ErrNotFound", err)
		}
		ok, err := s.Exists(ctx, Addr(7))
		if err != nil || ok {
			t.Fatalf("Exists missing: ok=%v err=%v", ok, err)
		}
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := newStore(t)
		addr := Addr(8)
		const n = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			unknown []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, err := s.Create(ctx, addr, 8, payer)
				if err == nil {
					err = h.Write(ctx, []byte{byte(i)})
				}
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case storage.IsAlreadyExists(err):
				default:
					unknown = append(unknown, err)
				}
			}(i)
		}
		wg.Wait()
		if len(unknown) > 0 {
			t.Fatalf("unexpected errors: %v", unknown)
		}
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("ListSortedWrittenOnly", func(t *testing.T) {
		s := newStore(t)
		l, ok := s.(storage.Lister)
		if !ok {
			t.Skip("backend does not implement storage.Lister")
		}
		for _, b := range []byte{9, 3, 6} {
			h, err := s.Create(ctx, Addr(b), 8, payer)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if err := h.Write(ctx, []byte{b}); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}
		pending, err := s.Create(ctx, Addr(1), 8, payer)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer pending.Discard(ctx)

		got, err := l.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := []address.Address{Addr(3), Addr(6), Addr(9)}
		if len(got) != len(want) {
			t.Fatalf("List: got %d entries want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("List[%d]: got %s want %s", i, got[i], want[i])
			}
		}
	})
}
