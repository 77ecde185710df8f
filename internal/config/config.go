// Package config loads kioku settings from an optional YAML file with
// KIOKU_-prefixed environment variables layered on top. Every field has a
// default, so an empty environment and no file still yield a runnable
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the kioku memory subsystem.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	Ranker        RankerConfig        `yaml:"ranker"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Server        ServerConfig        `yaml:"server"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Engine is "sqlite" or "postgres".
	Engine string `yaml:"engine"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // ollama, openai, anthropic
	OllamaURL       string `yaml:"ollama_url"`
	OllamaModel     string `yaml:"ollama_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIModel     string `yaml:"openai_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	// CallsPerMinute caps background LLM traffic (summaries).
	CallsPerMinute int `yaml:"calls_per_minute"`
}

// RankerConfig holds the retrieval scoring weights.
type RankerConfig struct {
	ImportanceWeight float64 `yaml:"importance_weight"`
	AccessWeight     float64 `yaml:"access_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	HalfLifeHours    float64 `yaml:"half_life_hours"`
	CacheSize        int     `yaml:"cache_size"`
}

// SegmentationConfig tunes the context window controller.
type SegmentationConfig struct {
	MaxWindowTurns int      `yaml:"max_window_turns"`
	TopicPatterns  []string `yaml:"topic_patterns"`
}

// ConsolidationConfig tunes the background maintenance pass.
type ConsolidationConfig struct {
	IntervalMinutes     int     `yaml:"interval_minutes"`
	DecayFactor         float64 `yaml:"decay_factor"`
	ImportanceFloor     float64 `yaml:"importance_floor"`
	RetentionDays       int     `yaml:"retention_days"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ServerConfig holds the listen addresses.
type ServerConfig struct {
	// NotifyAddr is where the WebSocket event hub listens.
	NotifyAddr string `yaml:"notify_addr"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides. A missing file at an
// explicitly given path is an error; unset env vars are not.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine: "sqlite",
			DSN:    "./data/kioku.db",
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-3-5-haiku-20241022",
			CallsPerMinute: 10,
		},
		Ranker: RankerConfig{
			ImportanceWeight: 0.5,
			AccessWeight:     0.2,
			RecencyWeight:    0.3,
			HalfLifeHours:    72,
			CacheSize:        128,
		},
		Segmentation: SegmentationConfig{
			MaxWindowTurns: 20,
		},
		Consolidation: ConsolidationConfig{
			IntervalMinutes:     15,
			DecayFactor:         0.98,
			ImportanceFloor:     0.1,
			RetentionDays:       30,
			SimilarityThreshold: 0.85,
		},
		Server: ServerConfig{
			NotifyAddr: "127.0.0.1:6360",
		},
	}
}

// applyEnv layers KIOKU_ environment variables over the current values.
func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("KIOKU_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DSN = getEnv("KIOKU_DSN", cfg.Storage.DSN)

	cfg.LLM.Provider = getEnv("KIOKU_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OllamaURL = getEnv("KIOKU_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = getEnv("KIOKU_OLLAMA_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.EmbeddingModel = getEnv("KIOKU_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.OpenAIAPIKey = getEnv("KIOKU_OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIModel = getEnv("KIOKU_OPENAI_MODEL", cfg.LLM.OpenAIModel)
	cfg.LLM.AnthropicAPIKey = getEnv("KIOKU_ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey)
	cfg.LLM.AnthropicModel = getEnv("KIOKU_ANTHROPIC_MODEL", cfg.LLM.AnthropicModel)
	cfg.LLM.CallsPerMinute = getEnvInt("KIOKU_LLM_CALLS_PER_MINUTE", cfg.LLM.CallsPerMinute)

	cfg.Ranker.ImportanceWeight = getEnvFloat("KIOKU_IMPORTANCE_WEIGHT", cfg.Ranker.ImportanceWeight)
	cfg.Ranker.AccessWeight = getEnvFloat("KIOKU_ACCESS_WEIGHT", cfg.Ranker.AccessWeight)
	cfg.Ranker.RecencyWeight = getEnvFloat("KIOKU_RECENCY_WEIGHT", cfg.Ranker.RecencyWeight)
	cfg.Ranker.HalfLifeHours = getEnvFloat("KIOKU_HALF_LIFE_HOURS", cfg.Ranker.HalfLifeHours)
	cfg.Ranker.CacheSize = getEnvInt("KIOKU_CACHE_SIZE", cfg.Ranker.CacheSize)

	cfg.Segmentation.MaxWindowTurns = getEnvInt("KIOKU_MAX_WINDOW_TURNS", cfg.Segmentation.MaxWindowTurns)

	cfg.Consolidation.IntervalMinutes = getEnvInt("KIOKU_CONSOLIDATION_INTERVAL_MINUTES", cfg.Consolidation.IntervalMinutes)
	cfg.Consolidation.DecayFactor = getEnvFloat("KIOKU_DECAY_FACTOR", cfg.Consolidation.DecayFactor)
	cfg.Consolidation.ImportanceFloor = getEnvFloat("KIOKU_IMPORTANCE_FLOOR", cfg.Consolidation.ImportanceFloor)
	cfg.Consolidation.RetentionDays = getEnvInt("KIOKU_RETENTION_DAYS", cfg.Consolidation.RetentionDays)
	cfg.Consolidation.SimilarityThreshold = getEnvFloat("KIOKU_SIMILARITY_THRESHOLD", cfg.Consolidation.SimilarityThreshold)

	cfg.Server.NotifyAddr = getEnv("KIOKU_NOTIFY_ADDR", cfg.Server.NotifyAddr)
}

// getEnv retrieves a string environment variable or returns the fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable or returns the
// fallback, also on parse failure.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable or returns the
// fallback, also on parse failure.
func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
