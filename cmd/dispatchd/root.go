package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

// defaultConfigPath is used when neither --config nor DISPATCH_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Dispatch session and token authentication service",
		Long: `dispatchd issues short-lived access tokens and long-lived refresh tokens,
tracks one server-side session per signed-in device, and serves the REST API
that clients use to register, log in, refresh and log out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", getConfigPath(),
		"path to the YAML config file (also set via DISPATCH_CONFIG)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// getConfigPath returns the configuration file path.
// Uses DISPATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DISPATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config and builds the configured logger.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openDatabase opens the configured SQLite database. Callers close it.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
