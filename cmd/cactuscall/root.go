package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cactuscall/internal/config"
)

var (
	flagBinariesMode string
	flagLatest       bool
	flagLogFile      string
	flagStateDir     string
)

var rootCmd = &cobra.Command{
	Use:   "cactuscall",
	Short: "Fanout scheduler and process invoker for the Cactus pipeline",
	Long: `cactuscall runs the external tools of the Cactus alignment pipeline
locally, in docker, or in singularity sandboxes, and spreads large numbers
of work units across a bounded-fanout job tree.

Core capabilities:
- Uniform invocation across local, docker and singularity backends
- Pipe chains that fail when any stage fails
- Soft timeouts and peak memory tracking
- Fanout trees that keep every job under a fixed child count`,
	SilenceUsage: true,
}

// Execute runs the root command. Interrupts cancel the command context so
// running tools, which live in their own process groups, are killed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBinariesMode, "binaries-mode", "", "Execution backend: local, docker or singularity (default: auto-detect)")
	rootCmd.PersistentFlags().BoolVar(&flagLatest, "latest", false, "Use the latest image tag instead of the release tag")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Mirror the realtime log to this file")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "Directory holding the run database and control signals")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fanoutCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagBinariesMode != "" {
		if err := config.Set(cfg, "binaries.mode", flagBinariesMode); err != nil {
			return nil, err
		}
	}
	if flagLatest {
		cfg.Binaries.Latest = true
	}
	if flagLogFile != "" {
		cfg.Execution.LogFile = flagLogFile
	}
	if flagStateDir != "" {
		cfg.Execution.StateDir = flagStateDir
	}
	return cfg, nil
}
