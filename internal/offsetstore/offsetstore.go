// Package offsetstore is the durable local record of how far each
// replication slot has been applied (spec.md §4.A). It is backed by
// SQLite: a single file, a single table, committed synchronously on every
// write, so that a restart after a crash resumes from exactly the last
// value a completed Set returned.
package offsetstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const createOffsetTable = `
CREATE TABLE IF NOT EXISTS lsn_offsets (
	slot_name        TEXT PRIMARY KEY,
	last_applied_lsn TEXT NOT NULL
)`

const getLastAppliedLSN = `SELECT last_applied_lsn FROM lsn_offsets WHERE slot_name = ?`

const upsertLastAppliedLSN = `
INSERT INTO lsn_offsets(slot_name, last_applied_lsn)
VALUES(?, ?)
ON CONFLICT(slot_name) DO UPDATE SET last_applied_lsn = excluded.last_applied_lsn`

// StorageUnavailable is returned when a write to the backing file fails.
// The apply loop treats this as fatal: it exits without advancing, and on
// restart replays from the last durable LSN (spec.md §4.A).
var StorageUnavailable = errors.New("offsetstore: storage unavailable")

// Store is a handle to the offset database. It does not interpret LSN
// values — they are opaque text as far as the store is concerned.
type Store struct {
	db *sql.DB
}

// Open creates the backing file and the lsn_offsets table if either is
// absent, creating any missing parent directories along the way. Open is
// idempotent: calling it again against an existing file is a no-op beyond
// re-running the CREATE TABLE IF NOT EXISTS statement.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("offsetstore: create parent directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("offsetstore: open %s: %w", path, err)
	}
	// The offset store serializes all reads and writes through one logical
	// connection; SQLite does not tolerate concurrent writers well, and the
	// apply loop is single-threaded besides.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createOffsetTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("offsetstore: create table: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the most recently committed LSN for slot, or "" if the slot
// has never been committed.
func (s *Store) Get(slot string) (string, error) {
	var lsn string
	err := s.db.QueryRow(getLastAppliedLSN, slot).Scan(&lsn)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("offsetstore: get %s: %w", slot, err)
	}
	return lsn, nil
}

// Set upserts the offset for slot, committing synchronously before it
// returns. A write failure is reported as StorageUnavailable.
func (s *Store) Set(slot, lsn string) error {
	if _, err := s.db.Exec(upsertLastAppliedLSN, slot, lsn); err != nil {
		return fmt.Errorf("%w: %s: %v", StorageUnavailable, slot, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
