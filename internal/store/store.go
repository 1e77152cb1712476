// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists project documents in a SQLite-backed key/value
// table. Every mutation runs inside a read-modify-write transaction and
// bumps the project's update stamp, which AwaitUpdate exposes to
// long-polling readers. The design assumes one writer process per project
// (the background worker); readers open the store in read-only mode.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

const dbFile = "scienceai.db"

// ErrReadOnly is returned by mutating calls on a read-only store.
var ErrReadOnly = errors.New("store is read only")

// pollInterval is how often AwaitUpdate re-reads the update stamp.
// Tests override this to avoid real sleeps.
var pollInterval = 300 * time.Millisecond

// Store is a key/document store scoped to one project.
type Store struct {
	db       *sql.DB
	project  string
	readOnly bool
}

// Open opens or creates the project store under dir. When readOnly is
// true mutating calls fail with ErrReadOnly and the schema is expected
// to exist already.
func Open(dir, project string, readOnly bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}

	s := &Store{db: db, project: project, readOnly: readOnly}
	if !readOnly {
		if err := s.createSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
		if err := s.touch(context.Background(), nil); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS update_time (
			project TEXT PRIMARY KEY,
			stamp TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Exists reports whether key holds a document.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE key = ?`, key,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking key %s: %w", key, err)
	}
	return n > 0, nil
}

// Create stores the initial document at key if the key is absent. An
// existing document is left untouched.
func (s *Store) Create(ctx context.Context, key string, initial any) error {
	if s.readOnly {
		return ErrReadOnly
	}
	data, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", key, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (key, value) VALUES (?, ?)`, key, string(data),
	); err != nil {
		return fmt.Errorf("creating document %s: %w", key, err)
	}
	if err := s.touch(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Read decodes the document at key into out.
func (s *Store) Read(ctx context.Context, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading %s: %w", key, types.ErrKeyNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// Session runs a read-modify-write critical section on key. fn receives
// the current document bytes (nil when the key is absent) and returns the
// bytes to write back; returning nil bytes leaves the document unchanged.
// The write and the update-stamp bump commit atomically.
func (s *Store) Session(ctx context.Context, key string, fn func(raw []byte) ([]byte, error)) error {
	if s.readOnly {
		return ErrReadOnly
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE key = ?`, key,
	).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading %s: %w", key, err)
	}

	var current []byte
	if raw.Valid {
		current = []byte(raw.String)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, string(next),
	); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := s.touch(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the document at key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE key = ?`, key,
	); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if err := s.touch(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Mutate is a typed Session: it decodes the document at key into a zero
// T when absent, applies fn, and writes the result back.
func Mutate[T any](ctx context.Context, s *Store, key string, fn func(doc *T) error) error {
	return s.Session(ctx, key, func(raw []byte) ([]byte, error) {
		var doc T
		if raw != nil {
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", key, err)
			}
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	})
}

// execer lets touch run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) touch(ctx context.Context, tx execer) error {
	var e execer = s.db
	if tx != nil {
		e = tx
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := e.ExecContext(ctx,
		`INSERT INTO update_time (project, stamp) VALUES (?, ?)
		 ON CONFLICT(project) DO UPDATE SET stamp=excluded.stamp`,
		s.project, stamp,
	); err != nil {
		return fmt.Errorf("bumping update stamp: %w", err)
	}
	return nil
}

// UpdateStamp returns the project's current update stamp.
func (s *Store) UpdateStamp(ctx context.Context) (string, error) {
	var stamp string
	err := s.db.QueryRowContext(ctx,
		`SELECT stamp FROM update_time WHERE project = ?`, s.project,
	).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading update stamp: %w", err)
	}
	return stamp, nil
}

// AwaitUpdate blocks until the project's update stamp differs from since,
// the timeout elapses, or ctx is done. It returns the stamp observed last
// and whether a change was seen. The wait is purely time-based polling;
// it is the only in-process suspension point the store exposes.
func (s *Store) AwaitUpdate(ctx context.Context, since string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		stamp, err := s.UpdateStamp(ctx)
		if err != nil {
			return since, false, err
		}
		if stamp != "" && stamp != since {
			return stamp, true, nil
		}
		if time.Now().After(deadline) {
			return since, false, nil
		}
		select {
		case <-ctx.Done():
			return since, false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
