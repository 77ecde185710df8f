package storage

import (
	"context"
	"fmt"

	"github.com/kioku-ai/kioku/pkg/types"
)

// DefaultSearchLimit applies when a caller leaves the limit unset.
const DefaultSearchLimit = 5

// SearchOptions controls SearchMemories.
type SearchOptions struct {
	// Query is the raw text to match against memory content.
	Query string

	// Category restricts results to one category when non-empty.
	Category types.Category

	// Limit caps the candidate set. Must be positive after Normalize.
	Limit int
}

// Normalize validates the options and applies defaults. A zero limit means
// the caller left it unset and gets DefaultSearchLimit; negative limits and
// unknown categories are rejected.
func (o *SearchOptions) Normalize() error {
	if o.Query == "" {
		return fmt.Errorf("%w: empty search query", types.ErrConstraintViolation)
	}
	if o.Limit == 0 {
		o.Limit = DefaultSearchLimit
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: limit %d must be positive", types.ErrConstraintViolation, o.Limit)
	}
	if o.Category != "" && !types.ValidCategory(o.Category) {
		return fmt.Errorf("%w: unknown category %q", types.ErrConstraintViolation, o.Category)
	}
	return nil
}

// Stats summarises store contents for the CLI.
type Stats struct {
	Memories      int `json:"memories"`
	Goals         int `json:"goals"`
	Sessions      int `json:"sessions"`
	Turns         int `json:"turns"`
	ArchivedTurns int `json:"archived_turns"`
}

// StatsProvider is implemented by backends that can report row counts.
type StatsProvider interface {
	Stats(ctx context.Context) (*Stats, error)
}

// VectorSearcher is implemented by backends that support embedding
// similarity search. Callers discover it with a type assertion and fall
// back to text search when the backend does not provide it.
type VectorSearcher interface {
	// SetMemoryEmbedding stores or replaces the embedding for a record.
	SetMemoryEmbedding(ctx context.Context, id string, embedding []float32) error

	// SearchByEmbedding returns the records nearest to the query vector.
	SearchByEmbedding(ctx context.Context, embedding []float32, limit int) ([]*types.MemoryRecord, error)
}
