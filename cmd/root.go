package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "title-extract",
	Short: "Vehicle title extraction pipeline",
	Long:  "Runs scanned US vehicle titles through OCR, heuristic field scanning and LLM normalization, producing a reconciled business record per document.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
