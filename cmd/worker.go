package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run outside the HTTP server, such as the reconciliation scheduler.`,
}

// Reconciliation worker command
var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the reconciliation scheduler",
	Long:  `Run reconciliation cycles on an interval, or a single cycle with --once`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(startReconcileWorker())
	},
}

var (
	reconcileOnce      bool
	reconcileBatchSize int
	reconcileInterval  time.Duration
	reconcileCutoff    time.Duration
)

func startReconcileWorker() int {
	deps, err := initializeDependencies(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		return 1
	}
	defer deps.DB.Close()
	lg := deps.Logger

	// Use command line flags if provided, otherwise use config values
	cfg := deps.Config.Reconciliation
	cfg.BatchSize = getIntFlag(reconcileBatchSize, cfg.BatchSize)
	cfg.Interval = getDurationFlag(reconcileInterval, cfg.Interval)
	cfg.StaleBookingCutoff = getDurationFlag(reconcileCutoff, cfg.StaleBookingCutoff)
	if reconcileOnce {
		cfg.InitialDelay = 0
	}

	scheduler := newScheduler(deps, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("starting reconciliation worker",
		"once", reconcileOnce,
		"interval", cfg.Interval,
		"stale_booking_cutoff", cfg.StaleBookingCutoff,
		"batch_size", cfg.BatchSize)

	if reconcileOnce {
		report := scheduler.RunCycle(ctx)
		failed := false
		for _, p := range report.Passes {
			fmt.Printf("%-20s examined=%d changed=%d failed=%d\n", p.Name, p.Examined, p.Changed, p.Failed)
			if p.Err != nil {
				failed = true
				fmt.Printf("%-20s error: %v\n", "", p.Err)
			}
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = deps.Bus.Wait(waitCtx)
		if failed {
			return 1
		}
		return 0
	}

	scheduler.Run(ctx)
	lg.Info("reconciliation worker stopped")
	return 0
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().BoolVar(&reconcileOnce, "once", false, "Run a single cycle and exit")
	reconcileWorkerCmd.Flags().IntVar(&reconcileBatchSize, "batch-size", 0, "Rows per batch (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&reconcileInterval, "interval", 0, "Cycle interval (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&reconcileCutoff, "stale-cutoff", 0, "Auto-cancel unpaid bookings older than this (overrides config)")

	workerCmd.AddCommand(reconcileWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
