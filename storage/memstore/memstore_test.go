package memstore

import (
	"context"
	"testing"

	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/testkit"
)

func TestMemstore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		t.Helper()
		return New()
	})
}

func TestMemstore_RecordsPayer(t *testing.T) {
	ctx := context.Background()
	s := New()
	payer := testkit.Addr(0x42)
	h, err := s.Create(ctx, testkit.Addr(1), 8, payer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := s.Payer(testkit.Addr(1)); ok {
		t.Fatalf("payer must not be visible before Write")
	}
	if err := h.Write(ctx, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok := s.Payer(testkit.Addr(1))
	if !ok || got != payer {
		t.Fatalf("Payer: got %s ok=%v want %s", got, ok, payer)
	}
}
