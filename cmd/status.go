package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/state"
)

var (
	statusID     string
	statusFilter string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger state for one document or a filtered list",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate("status")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ledger, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if statusID != "" {
			record, err := ledger.Get(ctx, statusID)
			if err != nil {
				return eris.Wrap(err, "read document")
			}
			if record == nil {
				return eris.Errorf("document %s is not tracked", statusID)
			}
			return enc.Encode(record)
		}

		records, err := ledger.List(ctx, state.DocumentFilter{
			Status: model.DocumentStatus(statusFilter),
			Limit:  statusLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list documents")
		}
		return enc.Encode(records)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusID, "id", "", "document id to show")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "filter list by overall status (e.g. FAILED)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "max records to list")
	rootCmd.AddCommand(statusCmd)
}
