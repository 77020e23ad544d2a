// Package cmd provides the qassist CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/amanbi/qassist/internal/config"
	"github.com/amanbi/qassist/internal/logging"
	"github.com/amanbi/qassist/pkg/version"
)

var (
	configPath string
	dataDir    string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the qassist CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "qassist",
		Short:   "Query-assistance engine for a BI chat frontend",
		Version: version.Version,
		Long: `qassist suggests, completes, and re-ranks BI chat queries using a
hybrid lexical+vector search, a personalization layer built from prior
feedback, and an optional LLM oracle for query expansion and prefix
completion.

This binary drives the engine directly for ingestion, local querying,
and feedback recording; it does not expose the out-of-scope HTTP
surface.`,
	}
	cmd.SetVersionTemplate("qassist version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: XDG config dir)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the behavior store database (default: in-memory, nothing persisted)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.qassist/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSuggestCmd())
	cmd.AddCommand(newSimilarCmd())
	cmd.AddCommand(newRelatedCmd())
	cmd.AddCommand(newFeedbackCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// startLogging enables debug logging when --debug is set, mirroring the
// teacher's profiling-and-logging PersistentPreRunE hook trimmed to just
// the logging half: this CLI has no profiling flags of its own.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the engine config from --config (or the default XDG
// path if unset, tolerating its absence), then applies --data-dir to the
// behavior store path if the flag was given.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Behavior.DatabasePath = filepath.Join(dataDir, "behavior.db")
	}
	return cfg, nil
}
