package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	processKey string
	processID  string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the full pipeline for a single document",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate("process")
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

		docID := processID
		if docID == "" {
			docID = processKey
		}

		orch := buildOrchestrator(ledger, objects)
		record, err := orch.ProcessDocument(ctx, docID, processKey)
		if err != nil {
			return eris.Wrap(err, "process document")
		}

		zap.L().Info("document processed",
			zap.String("doc", record.ID),
			zap.String("status", string(record.OverallStatus)),
			zap.String("output", record.FinalOutputURI),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

func init() {
	processCmd.Flags().StringVar(&processKey, "key", "", "input object key (required)")
	processCmd.Flags().StringVar(&processID, "id", "", "document id (defaults to the input key)")
	_ = processCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(processCmd)
}
