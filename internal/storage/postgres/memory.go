package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

const memoryColumns = `id, content, category, importance, access_count, last_accessed_at, created_at, updated_at, archived`

// CreateMemory inserts a new record, assigning its ULID and timestamps.
func (s *Store) CreateMemory(ctx context.Context, m *types.MemoryRecord) error {
	if err := m.Validate(); err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, category, importance, access_count, last_accessed_at, created_at, updated_at, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		m.ID, m.Content, string(m.Category), m.Importance, m.AccessCount,
		nullableTime(m.LastAccessedAt), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return storeErr("create memory", err)
	}
	return nil
}

// GetMemory retrieves a record by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get memory", err)
	}
	return m, nil
}

// SearchMemories returns the tsvector candidate set for a query, best rank
// first. plainto_tsquery handles operator characters in user text.
func (s *Store) SearchMemories(ctx context.Context, opts storage.SearchOptions) ([]*types.MemoryRecord, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', $1) AND NOT archived`
	args := []interface{}{opts.Query}
	if opts.Category != "" {
		query += ` AND category = $2`
		args = append(args, string(opts.Category))
	}
	query += fmt.Sprintf(`
		ORDER BY ts_rank(content_tsv, plainto_tsquery('english', $1)) DESC
		LIMIT %d`, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(fmt.Sprintf("search %q", opts.Query), err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListMemories returns non-archived records, newest first.
func (s *Store) ListMemories(ctx context.Context, category types.Category, limit int) ([]*types.MemoryRecord, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE NOT archived`
	args := []interface{}{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, string(category))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list memories", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// TouchMemory atomically bumps access_count and last_accessed_at.
func (s *Store) TouchMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return storeErr("touch memory", err)
	}
	return requireRow(res, "memory", id)
}

// UpdateMemory rewrites the mutable fields of an existing record.
func (s *Store) UpdateMemory(ctx context.Context, m *types.MemoryRecord) error {
	if err := m.Validate(); err != nil {
		return err
	}

	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET content = $1, category = $2, importance = $3, access_count = $4, last_accessed_at = $5, updated_at = $6
		WHERE id = $7`,
		m.Content, string(m.Category), m.Importance, m.AccessCount,
		nullableTime(m.LastAccessedAt), m.UpdatedAt, m.ID)
	if err != nil {
		return storeErr("update memory", err)
	}
	return requireRow(res, "memory", m.ID)
}

// ArchiveMemory soft-archives a record.
func (s *Store) ArchiveMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET archived = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return storeErr("archive memory", err)
	}
	return requireRow(res, "memory", id)
}

// CountMemories reports the number of non-archived records.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE NOT archived`).Scan(&n)
	if err != nil {
		return 0, storeErr("count memories", err)
	}
	return n, nil
}

// SetMemoryEmbedding stores the embedding for a record. A no-op when the
// pgvector extension is missing.
func (s *Store) SetMemoryEmbedding(ctx context.Context, id string, embedding []float32) error {
	if !s.vectorAvailable {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return storeErr("set embedding", err)
	}
	return requireRow(res, "memory", id)
}

// SearchByEmbedding returns the non-archived records nearest to the query
// vector by cosine distance. Returns nil when pgvector is unavailable so
// callers fall back to text search.
func (s *Store) SearchByEmbedding(ctx context.Context, embedding []float32, limit int) ([]*types.MemoryRecord, error) {
	if !s.vectorAvailable || len(embedding) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE NOT archived AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, storeErr("vector search", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

var _ storage.VectorSearcher = (*Store)(nil)

// scanMemory reads one row in memoryColumns order.
func scanMemory(row rowScanner) (*types.MemoryRecord, error) {
	var m types.MemoryRecord
	var category string
	var lastAccessed sql.NullTime
	if err := row.Scan(&m.ID, &m.Content, &category, &m.Importance, &m.AccessCount,
		&lastAccessed, &m.CreatedAt, &m.UpdatedAt, &m.Archived); err != nil {
		return nil, err
	}
	m.Category = types.Category(category)
	m.LastAccessedAt = timePtr(lastAccessed)
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*types.MemoryRecord, error) {
	var out []*types.MemoryRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, storeErr("scan memory", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate memories", err)
	}
	return out, nil
}
