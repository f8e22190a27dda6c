package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/atmx/market-feed/internal/config"
	"github.com/atmx/market-feed/internal/logging"
)

// app carries state shared by every subcommand once the root pre-run loaded
// the configuration.
type app struct {
	configPath string
	debug      bool
	verbosity  int

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "marketfeed",
		Short: "Concurrent market data feed simulator",
		Long: `marketfeed simulates a market data feed: a registry of instruments whose
prices tick concurrently, with images and updates pushed to subscribers, plus a
line-oriented TCP exchange server backed by a fixed worker pool.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	pf.BoolVarP(&a.debug, "debug", "d", false, "debug logging with source locations")
	pf.CountVarP(&a.verbosity, "verbose", "v", "verbose mode (-v, -vv, ...)")

	root.AddCommand(
		newRunCmd(a),
		newExchangeCmd(a),
		newRequestCmd(a),
		newQuoteCmd(a),
	)
	return root
}

// setup loads config, applies root flags and installs the default logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = a.debug
	}
	if flags.Changed("verbose") {
		cfg.Verbosity = a.verbosity
	}
	a.cfg = cfg

	logger, closer := logging.New(logging.Options{
		Debug:     cfg.Debug,
		Verbosity: cfg.Verbosity,
		File:      cfg.Output.LogFile,
		MaxSizeMB: cfg.Output.MaxSizeMB,
		Backups:   cfg.Output.MaxBackups,
		MaxAge:    cfg.Output.MaxAgeDays,
		Compress:  cfg.Output.Compress,
	})
	slog.SetDefault(logger)
	a.logger = logger
	a.logCloser = closer
	return nil
}

// validate runs after command-specific flag overrides.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
