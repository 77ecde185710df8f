package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWithoutFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("engine = %q, want sqlite", cfg.Storage.Engine)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Ranker.ImportanceWeight != 0.5 || cfg.Ranker.RecencyWeight != 0.3 {
		t.Errorf("unexpected ranker weights: %+v", cfg.Ranker)
	}
	if cfg.Consolidation.DecayFactor != 0.98 || cfg.Consolidation.RetentionDays != 30 {
		t.Errorf("unexpected consolidation defaults: %+v", cfg.Consolidation)
	}
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.yaml")
	content := `
storage:
  engine: postgres
  dsn: postgres://localhost/kioku
segmentation:
  max_window_turns: 8
  topic_patterns:
    - "(?i)^switch topic"
consolidation:
  decay_factor: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Engine != "postgres" || cfg.Storage.DSN != "postgres://localhost/kioku" {
		t.Errorf("storage not overridden: %+v", cfg.Storage)
	}
	if cfg.Segmentation.MaxWindowTurns != 8 || len(cfg.Segmentation.TopicPatterns) != 1 {
		t.Errorf("segmentation not overridden: %+v", cfg.Segmentation)
	}
	if cfg.Consolidation.DecayFactor != 0.9 {
		t.Errorf("decay factor = %v, want 0.9", cfg.Consolidation.DecayFactor)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("provider = %q, want default ollama", cfg.LLM.Provider)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  engine: postgres\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("KIOKU_STORAGE_ENGINE", "sqlite")
	t.Setenv("KIOKU_MAX_WINDOW_TURNS", "12")
	t.Setenv("KIOKU_DECAY_FACTOR", "0.95")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("env should win over file, got %q", cfg.Storage.Engine)
	}
	if cfg.Segmentation.MaxWindowTurns != 12 {
		t.Errorf("max window turns = %d, want 12", cfg.Segmentation.MaxWindowTurns)
	}
	if cfg.Consolidation.DecayFactor != 0.95 {
		t.Errorf("decay factor = %v, want 0.95", cfg.Consolidation.DecayFactor)
	}
}

func TestUnparsableEnvKeepsFallback(t *testing.T) {
	t.Setenv("KIOKU_MAX_WINDOW_TURNS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Segmentation.MaxWindowTurns != 20 {
		t.Errorf("bad env value should keep default 20, got %d", cfg.Segmentation.MaxWindowTurns)
	}
}

func TestMissingExplicitFileIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestMalformedYAMLIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.yaml")
	if err := os.WriteFile(path, []byte("storage: [not a mapping"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.yaml")
	if err := os.WriteFile(path, []byte("segmentation:\n  max_window_turns: 10\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("segmentation:\n  max_window_turns: 30\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Segmentation.MaxWindowTurns != 30 {
			t.Errorf("reloaded max window turns = %d, want 30", cfg.Segmentation.MaxWindowTurns)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}
