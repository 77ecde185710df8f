// Package cli implements the kioku commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/storage/postgres"
	"github.com/kioku-ai/kioku/internal/storage/sqlite"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "kioku",
	Short: "Long-term memory for a conversational personal agent",
	Long:  "kioku stores what the user says across conversations: memories, goals and profile attributes, ranked for retrieval and consolidated in the background.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (default: $KIOKU_CONFIG or built-in defaults)")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("KIOKU_CONFIG")
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "", "sqlite":
		return sqlite.New(cfg.Storage.DSN)
	case "postgres":
		return postgres.New(cfg.Storage.DSN)
	}
	return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
