// Package sqlite is the primary storage backend. It uses the CGO-free
// modernc.org/sqlite driver with WAL mode and a single write connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Store implements storage.Store on SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.StatsProvider = (*Store)(nil)
)

// New opens (creating if needed) a SQLite database at dsn, configures WAL
// mode and applies the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite allows one writer at a time. A single open connection
	// serialises writes so concurrent callers queue instead of hitting
	// SQLITE_BUSY; WAL mode lets readers proceed alongside the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats reports row counts for the CLI.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM memories WHERE archived = 0", &stats.Memories},
		{"SELECT COUNT(*) FROM goals", &stats.Goals},
		{"SELECT COUNT(*) FROM sessions", &stats.Sessions},
		{"SELECT COUNT(*) FROM turns", &stats.Turns},
		{"SELECT COUNT(*) FROM turns WHERE archived = 1", &stats.ArchivedTurns},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, storeErr("stats", err)
		}
	}
	return stats, nil
}

// storeErr wraps a database failure so callers can match ErrStoreFailure
// while the log line keeps the driver detail.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %v", types.ErrStoreFailure, op, err)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit tx", err)
	}
	return nil
}

// nullableTime converts a *time.Time into a driver-friendly value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// timePtr converts a scanned sql.NullTime back into a *time.Time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
