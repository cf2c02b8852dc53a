// Package cmd provides the CLI commands for retrievald.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lorekeep/retrieval/internal/config"
	"github.com/lorekeep/retrieval/internal/logging"
	"github.com/lorekeep/retrieval/pkg/version"
)

var (
	cfgPath   string
	debugMode bool
)

// NewRootCmd creates the root command for the retrievald CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrievald",
		Short: "Hybrid retrieval service for tenant knowledge bases",
		Long: `retrievald serves corrective hybrid retrieval (BM25 + dense vectors
with reciprocal rank fusion, reranking and quality verdicts) over
tenant-scoped knowledge base corpora.

It exposes an HTTP API and, optionally, an MCP stdio transport for AI
clients.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("retrievald version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the effective configuration for a subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the process default
// and returns its cleanup function.
func setupLogging(cfg *config.Config) (func(), error) {
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.WriteToStderr,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}
