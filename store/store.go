// Package store keeps compiled HogVM programs in SQLite, addressed by the
// SHA-256 of their canonical CBOR encoding.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/hogvm/vm"
	"github.com/chazu/hogvm/wire"
)

// ErrNotFound indicates the requested program doesn't exist.
var ErrNotFound = errors.New("program not found")

var log = commonlog.GetLogger("hogvm.store")

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	hash TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	data BLOB NOT NULL,
	size INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_programs_name ON programs(name);
`

// Entry describes a stored program without its bytecode.
type Entry struct {
	Hash      string
	Name      string
	Size      int
	CreatedAt time.Time
}

// Store handles SQLite storage for programs.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens the database at path, creating it if needed. ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Debugf("opened program store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hash returns the content address of p.
func Hash(p *vm.Program) (string, []byte, error) {
	data, err := wire.MarshalProgram(p)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

// Put stores p under its content hash. Storing the same program again
// only updates its name.
func (s *Store) Put(ctx context.Context, name string, p *vm.Program) (string, error) {
	hash, data, err := Hash(p)
	if err != nil {
		return "", fmt.Errorf("encoding program: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (hash, name, data, size, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET name = excluded.name`,
		hash, name, data, len(data), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("saving program: %w", err)
	}
	log.Infof("stored program %s (%s)", hash[:12], name)
	return hash, nil
}

// Get loads the program stored under hash.
func (s *Store) Get(ctx context.Context, hash string) (*vm.Program, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM programs WHERE hash = ?", hash).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	p, err := wire.UnmarshalProgram(data)
	if err != nil {
		return nil, fmt.Errorf("decoding program %s: %w", hash, err)
	}
	return p, nil
}

// Resolve finds a program by hash or, failing that, by the name it was
// most recently stored under.
func (s *Store) Resolve(ctx context.Context, ref string) (string, *vm.Program, error) {
	p, err := s.Get(ctx, ref)
	if err == nil {
		return ref, p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}
	var hash string
	err = s.db.QueryRowContext(ctx,
		"SELECT hash FROM programs WHERE name = ? ORDER BY created_at DESC LIMIT 1", ref).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("querying program: %w", err)
	}
	p, err = s.Get(ctx, hash)
	return hash, p, err
}

// List returns all stored programs ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash, name, size, created_at FROM programs ORDER BY name, hash")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Hash, &e.Name, &e.Size, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the program stored under hash.
func (s *Store) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM programs WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
