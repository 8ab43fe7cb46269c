// flowctl is the operator CLI for the campaign phase pipeline engine: it
// starts and stops phases, follows the server-push event stream, pages
// through per-phase result sets, and renders a live pipeline monitor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flowctl/internal/config"
	"flowctl/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "flowctl - campaign phase pipeline control",
	Long: `flowctl drives multi-stage campaigns (domain generation -> DNS
validation -> HTTP/keyword validation) against the campaign backend.

It tracks per-phase configuration and execution state, reconciles that
state against the server-push event stream, optionally auto-advances the
pipeline, and pages through large per-phase result sets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		return logging.Initialize(logging.Options{
			Dir:        cfg.Logging.Dir,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
			Enabled:    cfg.Logging.Enabled || verbose,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "flowctl.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(monitorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
