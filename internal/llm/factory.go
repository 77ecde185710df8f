package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures an inference provider.
type ProviderConfig struct {
	// Provider is one of "ollama", "openai", "anthropic".
	Provider string

	// BaseURL overrides the provider endpoint when non-empty.
	BaseURL string

	// Model is the completion model; provider defaults apply when empty.
	Model string

	// EmbedModel is the embedding model (Ollama only).
	EmbedModel string

	// APIKey authenticates hosted providers.
	APIKey string

	// Timeout bounds a single request.
	Timeout time.Duration
}

// NewTextGenerator builds the configured completion client.
func NewTextGenerator(config ProviderConfig) (TextGenerator, error) {
	switch config.Provider {
	case "", "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    config.BaseURL,
			Model:      config.Model,
			EmbedModel: config.EmbedModel,
			Timeout:    config.Timeout,
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  config.APIKey,
			BaseURL: config.BaseURL,
			Model:   config.Model,
			Timeout: config.Timeout,
		})
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  config.APIKey,
			BaseURL: config.BaseURL,
			Model:   config.Model,
			Timeout: config.Timeout,
		})
	}
	return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
}

// NewEmbeddingGenerator builds an embedding client for providers that
// support it. Returns nil with no error when the provider has no embedding
// endpoint; callers treat a nil generator as "similarity scoring disabled".
func NewEmbeddingGenerator(config ProviderConfig) (EmbeddingGenerator, error) {
	switch config.Provider {
	case "", "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    config.BaseURL,
			Model:      config.Model,
			EmbedModel: config.EmbedModel,
			Timeout:    config.Timeout,
		}), nil
	case "openai", "anthropic":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
}
