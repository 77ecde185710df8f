// Package llm is the boundary to the inference capability. Providers are
// plain HTTP clients wrapped in circuit breakers; nothing above this package
// knows which provider is configured.
package llm

import "context"

// TextGenerator is the interface for text completion. Extraction and
// summary prompts use single-string completion style, not chat.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator generates vector embeddings for similarity scoring.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
