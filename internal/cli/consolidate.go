package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/consolidation"
	"github.com/kioku-ai/kioku/internal/llm"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one maintenance pass over the store",
		Long:  "Summarizes closed sessions, merges duplicate memories, decays unused importance, archives old turns of summarized sessions and fires due reminders.",
		Run:   runConsolidate,
	}

	RootCmd.AddCommand(cmd)
}

func consolidationConfig(cfg *config.Config) consolidation.Config {
	return consolidation.Config{
		DecayFactor:         cfg.Consolidation.DecayFactor,
		ImportanceFloor:     cfg.Consolidation.ImportanceFloor,
		Retention:           time.Duration(cfg.Consolidation.RetentionDays) * 24 * time.Hour,
		SimilarityThreshold: cfg.Consolidation.SimilarityThreshold,
	}
}

func runConsolidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	gen, _, err := buildGenerators(cfg)
	if err != nil {
		exitErr("llm provider", err)
	}
	throttled := llm.NewThrottled(gen, float64(cfg.LLM.CallsPerMinute))

	engine, err := consolidation.New(store, throttled, nil, nil, consolidationConfig(cfg))
	if err != nil {
		exitErr("consolidation engine", err)
	}

	report, err := engine.Run(cmd.Context())
	if err != nil {
		exitErr("consolidation pass", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
