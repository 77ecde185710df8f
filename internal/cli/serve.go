package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/consolidation"
	"github.com/kioku-ai/kioku/internal/conversation"
	"github.com/kioku-ai/kioku/internal/extraction"
	"github.com/kioku-ai/kioku/internal/gateway"
	"github.com/kioku-ai/kioku/internal/llm"
	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/notify"
	"github.com/kioku-ai/kioku/internal/ranker"
	"github.com/kioku-ai/kioku/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory subsystem",
		Long:  "Wires the store, tool gateway, extraction pipeline, segmentation controller, consolidation scheduler and notify hub, then serves until interrupted.",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	gen, embedder, err := buildGenerators(cfg)
	if err != nil {
		exitErr("llm provider", err)
	}

	registry := locks.NewRegistry()

	rnk, err := ranker.New(store, registry, ranker.Config{
		Weights: ranker.Weights{
			Importance: cfg.Ranker.ImportanceWeight,
			Access:     cfg.Ranker.AccessWeight,
			Recency:    cfg.Ranker.RecencyWeight,
		},
		HalfLifeHours: cfg.Ranker.HalfLifeHours,
		CacheSize:     cfg.Ranker.CacheSize,
	})
	if err != nil {
		exitErr("ranker", err)
	}

	gw := gateway.New(store, rnk,
		gateway.WithDedupeThreshold(cfg.Consolidation.SimilarityThreshold),
		gateway.WithLockRegistry(registry))
	pipeline := extraction.New(store, gen, embedder, registry, extraction.Config{
		SimilarityThreshold: cfg.Consolidation.SimilarityThreshold,
	})

	segmenter, err := conversation.New(store, conversation.Config{
		MaxWindowTurns: cfg.Segmentation.MaxWindowTurns,
		TopicPatterns:  cfg.Segmentation.TopicPatterns,
	})
	if err != nil {
		exitErr("segmentation", err)
	}

	hub := notify.NewHub()
	go hub.Run()
	defer hub.Stop()

	throttled := llm.NewThrottled(gen, float64(cfg.LLM.CallsPerMinute))
	engine, err := consolidation.New(store, throttled, hub, registry, consolidationConfig(cfg))
	if err != nil {
		exitErr("consolidation engine", err)
	}
	scheduler := consolidation.NewScheduler(engine,
		time.Duration(cfg.Consolidation.IntervalMinutes)*time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)

	watcher := startConfigWatcher(segmenter)
	if watcher != nil {
		defer watcher.Stop()
	}

	srv := server.New(cfg.Server.NotifyAddr, server.Deps{
		Store:     store,
		Gateway:   gw,
		Pipeline:  pipeline,
		Segmenter: segmenter,
		Hub:       hub,
		Scheduler: scheduler,
	})
	if err := srv.Start(ctx, nil); err != nil {
		exitErr("server", err)
	}
	log.Printf("kioku: shut down")
}

// startConfigWatcher hot-reloads the segmentation tunables when the config
// file changes. Settings that require rewiring still need a restart.
func startConfigWatcher(segmenter *conversation.Controller) *config.Watcher {
	path := configPath
	if path == "" {
		path = os.Getenv("KIOKU_CONFIG")
	}
	if path == "" {
		return nil
	}

	watcher := config.NewWatcher(path, func(fresh *config.Config) {
		if err := segmenter.Reconfigure(conversation.Config{
			MaxWindowTurns: fresh.Segmentation.MaxWindowTurns,
			TopicPatterns:  fresh.Segmentation.TopicPatterns,
		}); err != nil {
			log.Printf("kioku: segmentation reload: %v", err)
		}
	})
	if err := watcher.Start(); err != nil {
		log.Printf("kioku: config watcher disabled: %v", err)
		return nil
	}
	return watcher
}
