package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage"
)

const pendingSuffix = ".pending"

// Store is a local filesystem-backed storage substrate.
//
// A region lives at <root>/<aa>/<base58 address>. Create claims
// <path>.pending with O_EXCL; Write fills it, links it to <path> and removes
// the pending file. os.Link fails when the target exists, so publication is
// itself create-if-absent. Published regions are made read-only (0444).
//
// A process crash between Create and Write leaves a pending file that keeps
// the address reserved until removed by an operator.
type Store struct {
	root string
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Lister = (*Store)(nil)
)

// New constructs a filesystem store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Exists(ctx context.Context, addr address.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := s.pathFor(addr)
	for _, p := range []string{path, path + pendingSuffix} {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
	}
	return false, nil
}

func (s *Store) Create(ctx context.Context, addr address.Address, size int, payer address.Address) (storage.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckCreate(addr, size, payer); err != nil {
		return nil, err
	}
	path := s.pathFor(addr)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, storage.ErrAlreadyExists
	}

	pending := path + pendingSuffix
	f, err := os.OpenFile(pending, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, err
	}
	// A writer may have published between the Stat above and our claim.
	if _, err := os.Stat(path); err == nil {
		_ = f.Close()
		_ = os.Remove(pending)
		return nil, storage.ErrAlreadyExists
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		_ = os.Remove(pending)
		return nil, err
	}
	return &handle{addr: addr, size: size, path: path, f: f}, nil
}

func (s *Store) Read(ctx context.Context, addr address.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.pathFor(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) List(ctx context.Context) ([]address.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []address.Address
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasSuffix(e.Name(), pendingSuffix) {
				continue
			}
			a, err := address.Parse(e.Name())
			if err != nil {
				continue
			}
			out = append(out, a)
		}
	}
	storage.SortAddresses(out)
	return out, nil
}

func (s *Store) pathFor(addr address.Address) string {
	name := addr.String()
	return filepath.Join(s.root, name[:2], name)
}

type handle struct {
	addr address.Address
	size int
	path string
	f    *os.File
}

func (h *handle) Address() address.Address { return h.addr }

func (h *handle) Size() int { return h.size }

func (h *handle) Write(ctx context.Context, data []byte) error {
	if h.f == nil {
		return storage.ErrHandleClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckWrite(h.size, data); err != nil {
		return err
	}
	pending := h.path + pendingSuffix
	if _, err := h.f.WriteAt(data, 0); err != nil {
		return err
	}
	if err := h.f.Sync(); err != nil {
		return err
	}
	if err := h.f.Close(); err != nil {
		return err
	}
	h.f = nil
	if err := os.Chmod(pending, 0o444); err != nil {
		_ = os.Remove(pending)
		return err
	}
	if err := os.Link(pending, h.path); err != nil {
		_ = os.Remove(pending)
		if os.IsExist(err) {
			return storage.ErrAlreadyExists
		}
		return err
	}
	return os.Remove(pending)
}

func (h *handle) Discard(ctx context.Context) error {
	if h.f == nil {
		return nil
	}
	_ = h.f.Close()
	h.f = nil
	return os.Remove(h.path + pendingSuffix)
}
