package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/state"
)

// UploaderConfig names the landing zone for raw documents.
type UploaderConfig struct {
	Bucket      string
	InputPrefix string
	NewID       func() string
	Clock       func() time.Time
}

// Uploader stores raw document bytes and opens the ledger entry for them.
// Each upload lands under a fresh UUID folder so identically named files
// never collide.
type Uploader struct {
	store    objectstore.Store
	ledger   state.Store
	recorder *Recorder
	cfg      UploaderConfig
}

// NewUploader wires an Uploader.
func NewUploader(store objectstore.Store, ledger state.Store, cfg UploaderConfig) *Uploader {
	if cfg.InputPrefix == "" {
		cfg.InputPrefix = "input/"
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Uploader{
		store:    store,
		ledger:   ledger,
		recorder: NewRecorder(ledger),
		cfg:      cfg,
	}
}

// UploadResult identifies a stored document. DocumentID doubles as the
// object key; the pipeline tracks documents by their input key.
type UploadResult struct {
	DocumentID string
	Key        string
	URI        string
	Size       int64
}

// Upload stores the document bytes and records the UPLOAD phase. The
// returned DocumentID feeds straight into ProcessDocument.
func (u *Uploader) Upload(ctx context.Context, filename string, data []byte, contentType string) (*UploadResult, error) {
	if filename == "" {
		return nil, eris.New("pipeline: upload needs a filename")
	}
	if len(data) == 0 {
		return nil, eris.New("pipeline: upload needs content")
	}

	key := u.cfg.InputPrefix + u.cfg.NewID() + "/" + filename
	uri := objectstore.URI(u.cfg.Bucket, key)

	if _, err := u.ledger.InitIfAbsent(ctx, key, uuid.NewString()); err != nil {
		return nil, eris.Wrap(err, "pipeline: init upload record")
	}
	if err := u.recorder.RecordUploadStarted(ctx, key, uri); err != nil {
		return nil, eris.Wrap(err, "pipeline: record upload start")
	}

	if err := u.store.PutBytes(ctx, u.cfg.Bucket, key, data, contentType); err != nil {
		if recErr := u.recorder.RecordUploadFailed(ctx, key, err); recErr != nil {
			zap.L().Error("pipeline: failed to record upload failure", zap.Error(recErr))
		}
		return nil, eris.Wrap(err, "pipeline: store upload")
	}

	artifact := model.Artifact{
		Type:        "raw",
		Key:         key,
		URI:         uri,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   u.cfg.Clock(),
	}
	if err := u.recorder.RecordUploadSucceeded(ctx, key, artifact); err != nil {
		return nil, eris.Wrap(err, "pipeline: record upload success")
	}

	zap.L().Info("pipeline: document uploaded",
		zap.String("doc", key),
		zap.String("uri", uri),
		zap.Int("bytes", len(data)),
	)
	return &UploadResult{DocumentID: key, Key: key, URI: uri, Size: int64(len(data))}, nil
}
