package storeconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/certledger/storage"
	_ "xdao.co/certledger/storage/localfs"
	_ "xdao.co/certledger/storage/memstore"
	"xdao.co/certledger/storage/storeregistry"
	"xdao.co/certledger/storage/testkit"
)

func TestParseValidate(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing-primary", "archives: []\n", "primary backend name is required"},
		{"archive-without-name", "primary: {name: memory}\narchives:\n  - id: x\n", "archive backend name is required"},
		{"duplicate-id", "primary: {name: memory}\narchives:\n  - name: memory\n", "duplicate backend id"},
		{"bad-yaml", "primary: [", "storeconfig:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v want error containing %q", err, tc.want)
			}
		})
	}
}

func TestOpenPrimaryOnly(t *testing.T) {
	cfg, err := Parse([]byte("primary:\n  name: memory\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, closeFn, err := cfg.Open(storeregistry.UsageDaemon)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := s.(storage.Tiered); ok {
		t.Fatalf("single backend should not be wrapped in Tiered")
	}
}

func TestLoadFileTieredArchives(t *testing.T) {
	ctx := context.Background()
	archiveDir := t.TempDir()
	primaryDir := t.TempDir()

	// Seed the archive with one region.
	seed, err := Parse([]byte("primary:\n  name: localfs\n  config:\n    localfs-dir: " + archiveDir + "\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	archive, _, err := seed.Open(storeregistry.UsageCLI)
	if err != nil {
		t.Fatalf("Open archive: %v", err)
	}
	h, err := archive.Create(ctx, testkit.Addr(1), 8, testkit.Addr(9))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Write(ctx, []byte("old")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	doc := "primary:\n  name: localfs\n  config:\n    localfs-dir: " + primaryDir + "\n" +
		"archives:\n  - name: localfs\n    id: legacy\n    config:\n      localfs-dir: " + archiveDir + "\n"
	path := filepath.Join(t.TempDir(), "store.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	s, closeFn, err := cfg.Open(storeregistry.UsageCLI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if _, err := s.Create(ctx, testkit.Addr(1), 8, testkit.Addr(9)); !storage.IsAlreadyExists(err) {
		t.Fatalf("Create over archived address: got %v want ErrAlreadyExists", err)
	}
	got, err := s.Read(ctx, testkit.Addr(1))
	if err != nil {
		t.Fatalf("Read via archive: %v", err)
	}
	if string(got[:3]) != "old" {
		t.Fatalf("unexpected archived bytes %q", got)
	}
	l, ok := s.(storage.Lister)
	if !ok {
		t.Fatalf("tiered store should list")
	}
	addrs, err := l.List(ctx)
	if err != nil || len(addrs) != 1 {
		t.Fatalf("List: %v %v", addrs, err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := Config{Primary: BackendConfig{Name: "nope"}}
	if _, _, err := cfg.Open(storeregistry.UsageDaemon); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
