package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jurisia/intake/internal/app"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one fetch cycle for every enabled source and exit",
		Long: `scan fetches each enabled source once, admits the new
publications and processes them synchronously. Useful for backfills and
for cron-style deployments without a resident scheduler.`,
		RunE: runScan,
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	if err := a.Scheduler.RunOnce(ctx); err != nil {
		return fmt.Errorf("scan cycle: %w", err)
	}
	logger.Info("scan cycle complete")
	return nil
}
