package cli

import (
	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/llm"
)

// providerConfig maps the config file's llm section onto the provider
// factory's shape.
func providerConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:   cfg.LLM.Provider,
		EmbedModel: cfg.LLM.EmbeddingModel,
	}
	switch cfg.LLM.Provider {
	case "", "ollama":
		pc.BaseURL = cfg.LLM.OllamaURL
		pc.Model = cfg.LLM.OllamaModel
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.Model = cfg.LLM.OpenAIModel
	case "anthropic":
		pc.APIKey = cfg.LLM.AnthropicAPIKey
		pc.Model = cfg.LLM.AnthropicModel
	}
	return pc
}

// buildGenerators creates the completion and embedding clients. The
// embedding generator may be nil for providers without an embedding
// endpoint.
func buildGenerators(cfg *config.Config) (llm.TextGenerator, llm.EmbeddingGenerator, error) {
	pc := providerConfig(cfg)
	gen, err := llm.NewTextGenerator(pc)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := llm.NewEmbeddingGenerator(pc)
	if err != nil {
		return nil, nil, err
	}
	return gen, embedder, nil
}
