// Command cloudbase runs the cloud file storage backend and its maintenance
// tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudbase/internal/config"
	"cloudbase/internal/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = ""
	commit  = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "cloudbase",
		Short: "Per-user cloud file storage backed by PostgreSQL, Redis and MinIO",
		Long: `cloudbase serves a JSON API for user accounts and per-user file trees.

Configuration is read from defaults, the optional --config YAML file and
CLOUDBASE_* environment variables, later sources winning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CLOUDBASE_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newUserCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			applyBuildInfo(&cfg)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cloudbase %s (commit %s)\n", cfg.Version, cfg.Commit)
			return err
		},
	}
}

func applyBuildInfo(cfg *config.Config) {
	if version != "" {
		cfg.Version = version
	}
	if commit != "" {
		cfg.Commit = commit
	}
}

// loadConfig reads the configuration and builds the logger it asks for.
func loadConfig(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	applyBuildInfo(&cfg)

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}
