package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/pipeline"
)

var (
	sweepDryRun bool
	sweepMax    int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process every eligible document under the input prefix",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate("sweep")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ledger, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		objects, err := initObjects()
		if err != nil {
			return err
		}

		maxPerRun := cfg.Sweep.MaxPerRun
		if sweepMax > 0 {
			maxPerRun = sweepMax
		}

		sweeper := pipeline.NewSweeper(objects, ledger, buildOrchestrator(ledger, objects), pipeline.SweepConfig{
			Bucket:      cfg.Objects.Bucket,
			InputPrefix: cfg.Objects.InputPrefix,
			MaxPerRun:   maxPerRun,
			Workers:     cfg.Sweep.Workers,
			DryRun:      sweepDryRun,
			Requeue:     requeuePolicy(),
		})

		report, err := sweeper.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		zap.L().Info("sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list eligible documents without processing")
	sweepCmd.Flags().IntVar(&sweepMax, "max", 0, "override sweep.max_per_run for this pass")
	rootCmd.AddCommand(sweepCmd)
}
