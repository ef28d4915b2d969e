package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/misopack/internal/config"
	"github.com/BadgerOps/misopack/internal/engine"
	"github.com/BadgerOps/misopack/internal/report"
	"github.com/BadgerOps/misopack/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath     string
	catalogPath string
	noCatalog   bool
	logLevel    string
	logFormat   string
	quiet       bool
	noColor     bool
	globalCfg   *config.Config
	logger      *slog.Logger

	// Global components
	globalStore   *store.Store
	globalManager *engine.Manager
)

var errNoCommand = errors.New("no command given")

// initializeComponents opens the run catalog and builds the manager
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if globalCfg.Catalog.Enabled && !noCatalog {
		dbPath := globalCfg.CatalogPath()
		if catalogPath != "" {
			dbPath = catalogPath
		}
		st, err := store.New(dbPath, logger)
		if err != nil {
			// The catalog is bookkeeping only; runs proceed without it.
			logger.Warn("run catalog unavailable, continuing without it", "path", dbPath, "error", err)
		} else {
			globalStore = st
		}
	}

	globalManager = engine.NewManager(globalStore, globalCfg, logger)

	logger.Debug("components initialized")
	return nil
}

// needsComponents checks if a command works on archives or the catalog
func needsComponents(cmdName string) bool {
	componentCmds := map[string]bool{
		"compress":   true,
		"uncompress": true,
		"history":    true,
	}
	return componentCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "misopack",
		Short: "Compress and restore MISO output directories",
		Long: `misopack packs a MISO output tree into a single archive and restores it.

Raw output directories (those holding result files such as *.miso) are archived
with their result files only; stray files next to them are excluded and reported.
All other directories are archived as-is, so the tree shape survives a round trip.`,
		Example: `  misopack compress run/ run.tar.zst
  misopack compress run/ --compression xz --dry-run
  misopack uncompress run.tar.zst restored/
  misopack history --limit 10`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errNoCommand
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger.Debug("config loaded", "path", cfgPath)

			if needsComponents(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "override run catalog database path")
	cmd.PersistentFlags().BoolVar(&noCatalog, "no-catalog", false, "do not record runs in the catalog")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "only log warnings and errors")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored summary output")

	cmd.AddCommand(
		newCompressCmd(),
		newUncompressCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
		"init":    true,
	}
	return skipConfigCmds[cmdName]
}

// colorize reports whether the summary on stdout should be colored
func colorize() bool {
	return !noColor && report.ColorEnabled(os.Stdout)
}
