// Package archive moves written certificate regions between stores as a
// deterministic TAR stream.
//
// Layout: index.json first, then one records/<address> entry per region in
// lexicographic order. Every region is bound to its content CID in the index.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"xdao.co/certledger/address"
	"xdao.co/certledger/cidutil"
	"xdao.co/certledger/storage"
)

// FormatVersion is the current archive index schema version.
const FormatVersion = 1

const (
	indexName     = "index.json"
	recordsPrefix = "records/"
)

var epoch0 = time.Unix(0, 0).UTC()

var (
	ErrMissingIndex = errors.New("archive: index.json must be the first entry")
	ErrNotIndexed   = errors.New("archive: record entry not listed in index")
)

// Export writes the regions at addrs to w.
//
// The archive bytes depend only on the region contents: entry order is
// lexicographic and TAR headers are normalized.
func Export(ctx context.Context, w io.Writer, st storage.Store, addrs []address.Address) error {
	if st == nil {
		return fmt.Errorf("archive: nil store")
	}

	uniq := make(map[string]address.Address, len(addrs))
	for _, a := range addrs {
		if a.IsZero() {
			return storage.ErrInvalidAddress
		}
		uniq[a.String()] = a
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	idx := indexJSON{Version: FormatVersion, CIDCodec: "raw", Multihash: "sha2-256"}
	payloads := make([][]byte, 0, len(names))
	for _, s := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := st.Read(ctx, uniq[s])
		if err != nil {
			return fmt.Errorf("archive: read %s: %w", s, err)
		}
		id, err := cidutil.ContentCID(b)
		if err != nil {
			return err
		}
		idx.Records = append(idx.Records, indexRecord{Address: s, CID: id.String(), Size: len(b)})
		payloads = append(payloads, b)
	}

	tw := tar.NewWriter(w)
	ib, err := marshalCanonicalIndexJSON(idx)
	if err != nil {
		_ = tw.Close()
		return err
	}
	if err := writeFile(tw, indexName, ib); err != nil {
		_ = tw.Close()
		return err
	}
	for i, s := range names {
		if err := writeFile(tw, recordsPrefix+s, payloads[i]); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// ImportOptions controls archive import behavior.
type ImportOptions struct {
	// Payer funds the regions created by the import. Required.
	Payer address.Address
	// IgnoreUnknown skips unknown TAR entries instead of failing.
	IgnoreUnknown bool
}

// Result summarizes an import.
type Result struct {
	Imported []address.Address
	// Skipped regions already existed with identical bytes.
	Skipped []address.Address
	// Conflicts already existed with different bytes, or are reserved by an
	// in-flight issuance. They are left untouched.
	Conflicts []address.Address
}

// Import reads an archive from r and creates each region in st exactly once.
//
// Every payload must match the CID the index records for it.
func Import(ctx context.Context, r io.Reader, st storage.Store, opts ImportOptions) (*Result, error) {
	if st == nil {
		return nil, fmt.Errorf("archive: nil store")
	}
	if opts.Payer.IsZero() {
		return nil, storage.ErrMissingPayer
	}

	tr := tar.NewReader(r)
	res := &Result{}
	var idx map[string]indexRecord
	seen := map[string]struct{}{}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		h, err := tr.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("archive: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("archive: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if idx == nil {
			if name != indexName {
				return res, ErrMissingIndex
			}
			if idx, err = readIndex(tr); err != nil {
				return res, err
			}
			continue
		}

		if !strings.HasPrefix(name, recordsPrefix) {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return res, fmt.Errorf("archive: unknown entry: %s", name)
		}

		addrStr := strings.TrimPrefix(name, recordsPrefix)
		addr, err := address.Parse(addrStr)
		if err != nil {
			return res, fmt.Errorf("archive: entry %s: %w", name, err)
		}
		if _, ok := seen[addrStr]; ok {
			return res, fmt.Errorf("archive: duplicate record entry: %s", addrStr)
		}
		seen[addrStr] = struct{}{}

		ent, ok := idx[addrStr]
		if !ok {
			return res, fmt.Errorf("%w: %s", ErrNotIndexed, addrStr)
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return res, err
		}
		want, err := cidutil.Parse(ent.CID)
		if err != nil {
			return res, err
		}
		if err := cidutil.Verify(want, payload); err != nil {
			return res, fmt.Errorf("archive: record %s: %w", addrStr, err)
		}

		if err := importOne(ctx, st, addr, payload, opts.Payer, res); err != nil {
			return res, err
		}
	}
}

func importOne(ctx context.Context, st storage.Store, addr address.Address, payload []byte, payer address.Address, res *Result) error {
	h, err := st.Create(ctx, addr, len(payload), payer)
	if errors.Is(err, storage.ErrAlreadyExists) {
		existing, rerr := st.Read(ctx, addr)
		switch {
		case storage.IsNotFound(rerr):
			res.Conflicts = append(res.Conflicts, addr)
			return nil
		case rerr != nil:
			return rerr
		case bytes.Equal(existing, payload):
			res.Skipped = append(res.Skipped, addr)
		default:
			res.Conflicts = append(res.Conflicts, addr)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.Write(ctx, payload); err != nil {
		_ = h.Discard(context.WithoutCancel(ctx))
		return err
	}
	res.Imported = append(res.Imported, addr)
	return nil
}

type indexJSON struct {
	Version   int           `json:"version"`
	CIDCodec  string        `json:"cidCodec"`
	Multihash string        `json:"multihash"`
	Records   []indexRecord `json:"records"`
}

type indexRecord struct {
	Address string `json:"address"`
	CID     string `json:"cid"`
	Size    int    `json:"size"`
}

func readIndex(r io.Reader) (map[string]indexRecord, error) {
	var idx indexJSON
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("archive: index: %w", err)
	}
	if idx.Version != FormatVersion {
		return nil, fmt.Errorf("archive: unsupported index version %d", idx.Version)
	}
	out := make(map[string]indexRecord, len(idx.Records))
	for _, rec := range idx.Records {
		out[rec.Address] = rec
	}
	return out, nil
}

func marshalCanonicalIndexJSON(idx indexJSON) ([]byte, error) {
	if idx.Records == nil {
		idx.Records = []indexRecord{}
	}
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
