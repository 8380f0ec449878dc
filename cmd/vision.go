package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/vision"
	"github.com/cario/title-extract/pkg/sonar"
)

var visionPages []string

var visionCmd = &cobra.Command{
	Use:   "vision",
	Short: "Extract title fields straight from page images",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate("vision")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		objects, err := initObjects()
		if err != nil {
			return err
		}

		client := sonar.NewClient(cfg.Sonar.Key,
			sonar.WithBaseURL(cfg.Sonar.BaseURL),
			sonar.WithModel(cfg.Sonar.Model),
		)
		svc := vision.NewService(objects, client, vision.ServiceConfig{
			Bucket:    cfg.Objects.Bucket,
			Model:     cfg.Sonar.Model,
			MaxTokens: cfg.Sonar.MaxTokens,
			Retry: resilience.FromRetryConfig(
				cfg.Retry.MaxAttempts,
				cfg.Retry.InitialBackoffMs,
				cfg.Retry.MaxBackoffMs,
				cfg.Retry.Multiplier,
				cfg.Retry.JitterFraction,
			),
			Circuit: resilience.FromCircuitConfig(
				cfg.Circuit.FailureThreshold,
				cfg.Circuit.ResetTimeoutSecs,
			),
		})

		res, err := svc.ExtractPages(ctx, visionPages)
		if err != nil {
			return eris.Wrap(err, "vision extract")
		}

		zap.L().Info("vision extraction complete",
			zap.Int("pages", res.Pages),
			zap.Bool("schema_valid", res.SchemaValid),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Business)
	},
}

func init() {
	visionCmd.Flags().StringSliceVar(&visionPages, "page", nil, "page image object key (repeatable, required)")
	_ = visionCmd.MarkFlagRequired("page")
	rootCmd.AddCommand(visionCmd)
}
