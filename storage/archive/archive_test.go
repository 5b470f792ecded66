package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"xdao.co/certledger/address"
	"xdao.co/certledger/cidutil"
	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/archive"
	"xdao.co/certledger/storage/localfs"
	"xdao.co/certledger/storage/memstore"
	"xdao.co/certledger/storage/testkit"
)

var payer = testkit.Addr(0x42)

func put(t *testing.T, st storage.Store, addr address.Address, data []byte) {
	t.Helper()
	ctx := context.Background()
	h, err := st.Create(ctx, addr, len(data), payer)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Write(ctx, data); err != nil {
		t.Fatal(err)
	}
}

func TestExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	st, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a1, a2 := testkit.Addr(1), testkit.Addr(2)
	put(t, st, a1, []byte("hello"))
	put(t, st, a2, []byte("world"))

	var outA, outB bytes.Buffer
	if err := archive.Export(ctx, &outA, st, []address.Address{a2, a1}); err != nil {
		t.Fatal(err)
	}
	if err := archive.Export(ctx, &outB, st, []address.Address{a1, a2, a1}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("expected deterministic archive bytes")
	}
}

func TestExportMissingRegion(t *testing.T) {
	var out bytes.Buffer
	err := archive.Export(context.Background(), &out, memstore.New(), []address.Address{testkit.Addr(9)})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	a1, a2 := testkit.Addr(1), testkit.Addr(2)
	put(t, src, a1, []byte("payload-1"))
	put(t, src, a2, []byte("payload-2"))

	var buf bytes.Buffer
	if err := archive.Export(ctx, &buf, src, []address.Address{a1, a2}); err != nil {
		t.Fatal(err)
	}

	dst := memstore.New()
	put(t, dst, a2, []byte("different"))

	res, err := archive.Import(ctx, bytes.NewReader(buf.Bytes()), dst, archive.ImportOptions{Payer: payer})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Imported) != 1 || res.Imported[0] != a1 {
		t.Fatalf("imported: %v", res.Imported)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0] != a2 {
		t.Fatalf("conflicts: %v", res.Conflicts)
	}
	got, err := dst.Read(ctx, a1)
	if err != nil || string(got) != "payload-1" {
		t.Fatalf("read back: %q %v", got, err)
	}
	if got, _ := dst.Read(ctx, a2); string(got) != "different" {
		t.Fatalf("conflicting region was modified: %q", got)
	}

	res, err = archive.Import(ctx, bytes.NewReader(buf.Bytes()), dst, archive.ImportOptions{Payer: payer})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Imported) != 0 || len(res.Skipped) != 1 || res.Skipped[0] != a1 {
		t.Fatalf("second import: %+v", res)
	}
}

func TestImportRejectsCIDMismatch(t *testing.T) {
	addr := testkit.Addr(3)
	other, err := cidutil.ContentCID([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	index := []byte(`{"version":1,"cidCodec":"raw","multihash":"sha2-256","records":[{"address":"` +
		addr.String() + `","cid":"` + other.String() + `","size":4}]}` + "\n")

	b := makeDeterministicTar(t,
		entry{"index.json", index},
		entry{"records/" + addr.String(), []byte("good")},
	)
	dst := memstore.New()
	_, err = archive.Import(context.Background(), bytes.NewReader(b), dst, archive.ImportOptions{Payer: payer})
	if !errors.Is(err, cidutil.ErrContentMismatch) {
		t.Fatalf("expected ErrContentMismatch, got %v", err)
	}
	if ok, _ := dst.Exists(context.Background(), addr); ok {
		t.Fatalf("mismatched record was created")
	}
}

func TestImportRequiresIndexFirst(t *testing.T) {
	addr := testkit.Addr(4)
	b := makeDeterministicTar(t, entry{"records/" + addr.String(), []byte("x")})
	_, err := archive.Import(context.Background(), bytes.NewReader(b), memstore.New(), archive.ImportOptions{Payer: payer})
	if !errors.Is(err, archive.ErrMissingIndex) {
		t.Fatalf("expected ErrMissingIndex, got %v", err)
	}
}

func TestImportRejectsTraversalAndUnknown(t *testing.T) {
	index := []byte(`{"version":1,"cidCodec":"raw","multihash":"sha2-256","records":[]}` + "\n")
	ctx := context.Background()

	b := makeDeterministicTar(t, entry{"index.json", index}, entry{"../etc/passwd", []byte("x")})
	if _, err := archive.Import(ctx, bytes.NewReader(b), memstore.New(), archive.ImportOptions{Payer: payer}); err == nil {
		t.Fatalf("expected error for traversal path")
	}

	b = makeDeterministicTar(t, entry{"index.json", index}, entry{"notes.txt", []byte("x")})
	if _, err := archive.Import(ctx, bytes.NewReader(b), memstore.New(), archive.ImportOptions{Payer: payer}); err == nil {
		t.Fatalf("expected error for unknown entry")
	}
	if _, err := archive.Import(ctx, bytes.NewReader(b), memstore.New(), archive.ImportOptions{Payer: payer, IgnoreUnknown: true}); err != nil {
		t.Fatalf("IgnoreUnknown: %v", err)
	}
}

func TestImportRequiresPayer(t *testing.T) {
	_, err := archive.Import(context.Background(), bytes.NewReader(nil), memstore.New(), archive.ImportOptions{})
	if !errors.Is(err, storage.ErrMissingPayer) {
		t.Fatalf("expected ErrMissingPayer, got %v", err)
	}
}

type entry struct {
	name    string
	content []byte
}

func makeDeterministicTar(t *testing.T, entries ...entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		h := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.content)),
			ModTime:  time.Unix(0, 0).UTC(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(e.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
