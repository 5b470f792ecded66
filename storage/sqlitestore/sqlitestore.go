// Package sqlitestore is a SQLite-backed storage substrate.
//
// The regions table's primary key is the create-if-absent serialization
// point. Create inserts a pending row (written = 0) in its own statement;
// Write fills the data and flips written in a single UPDATE guarded on
// written = 0, so readers never observe a partially populated region.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS regions (
	address    BLOB PRIMARY KEY,
	payer      BLOB NOT NULL,
	size       INTEGER NOT NULL,
	data       BLOB NOT NULL,
	written    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Store wraps a SQLite database connection.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Lister = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlitestore: database path is required")
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create regions table: %w", err)
	}
	slog.Debug("sqlite store opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Exists(ctx context.Context, addr address.Address) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM regions WHERE address = ?`, addr[:]).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check region: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Create(ctx context.Context, addr address.Address, size int, payer address.Address) (storage.Handle, error) {
	if err := storage.CheckCreate(addr, size, payer); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO regions (address, payer, size, data, written) VALUES (?, ?, ?, zeroblob(?), 0)`,
		addr[:], payer[:], size, size)
	if err != nil {
		if isConstraint(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create region: %w", err)
	}
	return &handle{s: s, addr: addr, size: size}, nil
}

func (s *Store) Read(ctx context.Context, addr address.Address) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM regions WHERE address = ? AND written = 1`, addr[:]).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read region: %w", err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context) ([]address.Address, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM regions WHERE written = 1 ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var out []address.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		a, err := address.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Payer returns the payer recorded for a written region.
func (s *Store) Payer(ctx context.Context, addr address.Address) (address.Address, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payer FROM regions WHERE address = ? AND written = 1`, addr[:]).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return address.Zero, storage.ErrNotFound
		}
		return address.Zero, fmt.Errorf("failed to read payer: %w", err)
	}
	return address.FromBytes(raw)
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

type handle struct {
	s    *Store
	addr address.Address
	size int
	done bool
}

func (h *handle) Address() address.Address { return h.addr }

func (h *handle) Size() int { return h.size }

func (h *handle) Write(ctx context.Context, data []byte) error {
	if h.done {
		return storage.ErrHandleClosed
	}
	if err := storage.CheckWrite(h.size, data); err != nil {
		return err
	}
	res, err := h.s.db.ExecContext(ctx,
		`UPDATE regions SET data = ?, written = 1 WHERE address = ? AND written = 0`,
		storage.Pad(data, h.size), h.addr[:])
	if err != nil {
		return fmt.Errorf("failed to write region: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	h.done = true
	if n != 1 {
		return storage.ErrHandleClosed
	}
	return nil
}

func (h *handle) Discard(ctx context.Context) error {
	if h.done {
		return nil
	}
	h.done = true
	_, err := h.s.db.ExecContext(ctx, `DELETE FROM regions WHERE address = ? AND written = 0`, h.addr[:])
	if err != nil {
		return fmt.Errorf("failed to discard region: %w", err)
	}
	return nil
}
