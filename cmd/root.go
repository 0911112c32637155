// Package cmd defines the CLI commands for the intaked executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/config"
	"github.com/jurisia/intake/internal/logging"
)

var (
	cfgFile string
	envFile string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intaked",
		Short: "Publication intake and deadline automation service",
		Long: `intaked watches court publication sources, deduplicates and
normalizes the captured notices, extracts procedural deadlines and turns
them into work items on the firm's task board. Anything it cannot decide
with confidence lands in the triage queue for a human.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file loaded before config")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	return cmd
}

// bootstrap loads the environment, configuration and logger shared by
// every subcommand.
func bootstrap() (config.Config, *zap.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		// A missing default .env is fine.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
