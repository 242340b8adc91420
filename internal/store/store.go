// Package store provides SQLite persistence for accumulator state and a
// recorder-style long-term statistics store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Version is written with every accumulator row.
const Version = 1

// DefaultNamespace scopes accumulator rows when none is configured.
const DefaultNamespace = "device_energy_cost"

// Store wraps one SQLite database. Accumulator state and statistics may
// live in the same file or in separate ones.
type Store struct {
	db        *sql.DB
	namespace string
}

// Open opens or creates the database at dbPath. namespace scopes the
// accumulator rows; empty selects DefaultNamespace.
func Open(dbPath, namespace string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{db: db, namespace: namespace}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns the accumulator namespace in use.
func (s *Store) Namespace() string {
	return s.namespace
}
