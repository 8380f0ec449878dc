package main

import (
	"encoding/json"
	"mime"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/pipeline"
)

var (
	uploadFile string
	uploadName string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Store a local document in the input landing zone",
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

		objects, err := initObjects()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(uploadFile)
		if err != nil {
			return eris.Wrap(err, "read file")
		}

		name := uploadName
		if name == "" {
			name = filepath.Base(uploadFile)
		}
		contentType := mime.TypeByExtension(filepath.Ext(name))

		uploader := pipeline.NewUploader(objects, ledger, pipeline.UploaderConfig{
			Bucket:      cfg.Objects.Bucket,
			InputPrefix: cfg.Objects.InputPrefix,
		})
		res, err := uploader.Upload(ctx, name, data, contentType)
		if err != nil {
			return eris.Wrap(err, "upload document")
		}

		zap.L().Info("upload stored",
			zap.String("doc", res.DocumentID),
			zap.Int64("bytes", res.Size),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "local file to upload (required)")
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "stored filename (defaults to the file's base name)")
	_ = uploadCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(uploadCmd)
}
