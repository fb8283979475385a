package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fakematch/internal/config"
	"fakematch/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded configuration
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fakematch",
	Short: "fakematch - match injected fake sources against pipeline detections",
	Long: `fakematch matches a catalog of synthetically injected ("fake")
astronomical sources against the source catalogs produced by the
measurement pipeline, and emits a combined table for
injection-recovery analysis.

Fake positions come either from exposure header metadata (FAKE<id>
keys written by the injection task) or from the fake-source catalog's
sky coordinates. Matches within a positional tolerance are assembled
into rows carrying measurement columns, derived magnitudes and
per-exposure metadata, stacked across exposures, and optionally
joined back against the full fake catalog.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
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
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := logging.Initialize(logging.Options{
			Dir:        cfg.Logging.Dir,
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize file logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fakematch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fakematch %s\n", cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fakematch.yaml", "path to config file")

	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
