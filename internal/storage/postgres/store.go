// Package postgres is the secondary storage backend, for deployments that
// already run PostgreSQL. Full-text search uses tsvector with a GIN index;
// embedding similarity uses pgvector when the extension is installed.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *sql.DB

	vectorAvailable bool // true when the pgvector extension is present
}

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.StatsProvider = (*Store)(nil)
)

// New connects to the database at dsn and applies the schema. The pgvector
// extension is enabled opportunistically; without it the store works with
// text search only.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}

	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		log.Printf("postgres: pgvector extension not available (vector search disabled): %v", err)
	} else {
		s.vectorAvailable = true
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	if s.vectorAvailable {
		if _, err := db.Exec(MigrationVector); err != nil {
			log.Printf("postgres: vector column migration failed (vector search disabled): %v", err)
			s.vectorAvailable = false
		}
	}

	return s, nil
}

// Close releases the connection pool.
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
		{`SELECT COUNT(*) FROM memories WHERE NOT archived`, &stats.Memories},
		{`SELECT COUNT(*) FROM goals`, &stats.Goals},
		{`SELECT COUNT(*) FROM sessions`, &stats.Sessions},
		{`SELECT COUNT(*) FROM turns`, &stats.Turns},
		{`SELECT COUNT(*) FROM turns WHERE archived`, &stats.ArchivedTurns},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, storeErr("stats", err)
		}
	}
	return stats, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %v", types.ErrStoreFailure, op, err)
}

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

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func requireRow(res sql.Result, kind string, id interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", types.ErrNotFound, kind, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
