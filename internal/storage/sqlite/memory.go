package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

const memoryColumns = `id, content, category, importance, access_count, last_accessed_at, created_at, updated_at, archived`

// CreateMemory inserts a new record. The ID (ULID) and timestamps are
// assigned here; validation failures leave the database untouched.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
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
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get memory", err)
	}
	return m, nil
}

// SearchMemories returns the FTS candidate set for a query, best matches
// first. The raw query is sanitised into a prefix OR expression so FTS5
// operator syntax in user text cannot break the MATCH.
func (s *Store) SearchMemories(ctx context.Context, opts storage.SearchOptions) ([]*types.MemoryRecord, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	ftsQuery := sanitiseFTSQuery(opts.Query)
	if ftsQuery == "" {
		return nil, nil
	}

	query := `
		SELECT m.id, m.content, m.category, m.importance, m.access_count,
		       m.last_accessed_at, m.created_at, m.updated_at, m.archived
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND m.archived = 0`
	args := []interface{}{ftsQuery}
	if opts.Category != "" {
		query += ` AND m.category = ?`
		args = append(args, string(opts.Category))
	}
	query += ` ORDER BY rank LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		// FTS5 can still reject input that slipped past sanitisation.
		return nil, storeErr(fmt.Sprintf("search MATCH %q", opts.Query), err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// ListMemories returns non-archived records, newest first.
func (s *Store) ListMemories(ctx context.Context, category types.Category, limit int) ([]*types.MemoryRecord, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE archived = 0`
	args := []interface{}{}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
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
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
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
		SET content = ?, category = ?, importance = ?, access_count = ?, last_accessed_at = ?, updated_at = ?
		WHERE id = ?`,
		m.Content, string(m.Category), m.Importance, m.AccessCount,
		nullableTime(m.LastAccessedAt), m.UpdatedAt, m.ID)
	if err != nil {
		return storeErr("update memory", err)
	}
	return requireRow(res, "memory", m.ID)
}

// ArchiveMemory soft-archives a record, removing it from search results.
func (s *Store) ArchiveMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return storeErr("archive memory", err)
	}
	return requireRow(res, "memory", id)
}

// CountMemories reports the number of non-archived records.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE archived = 0`).Scan(&n)
	if err != nil {
		return 0, storeErr("count memories", err)
	}
	return n, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(res sql.Result, kind, id interface{}) error {
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

// scanMemories drains rows in memoryColumns order.
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

// sanitiseFTSQuery converts free-form user text into a safe FTS5 MATCH
// expression: special characters stripped, stop words removed, remaining
// terms prefix-matched and joined with OR.
//
// Example: "Where does the user live?" → "user* OR live*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `, `'`, ` `, `(`, ` `, `)`, ` `,
		`*`, ` `, `-`, ` `, `^`, ` `, `?`, ` `, `:`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}

	if len(terms) == 0 {
		// Everything was a stop word. Lowercase the cleaned text so FTS5
		// does not read uppercase AND/OR/NOT as operators.
		return strings.ToLower(strings.TrimSpace(cleaned))
	}

	return strings.Join(terms, " OR ")
}

var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "before": true, "after": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true,
}
