// Package pipeline drives a document through the processing lifecycle:
// PENDING -> RUNNING -> TEXTRACT_COMPLETED -> NLP_COMPLETED -> COMPLETED,
// with FAILED reachable from any non-terminal state. Every step is recorded
// in the ledger before and after it runs, so a crashed run leaves an
// accurate trail and a re-run picks up idempotently.
package pipeline

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/nlp"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/ocr"
	"github.com/cario/title-extract/internal/state"
)

// OCRRunner is the OCR phase surface the orchestrator depends on.
type OCRRunner interface {
	ProcessFile(ctx context.Context, inputBucket, inputKey string, threshold float64) (*ocr.Result, error)
}

// Normalizer is the NLP phase surface the orchestrator depends on.
type Normalizer interface {
	Normalize(ctx context.Context, elementsKey, outputKey string, threshold float64) (*nlp.Result, error)
}

// Config tunes one orchestrator instance.
type Config struct {
	Bucket       string
	Threshold    float64
	OutputPrefix string
	Clock        func() time.Time
}

// Orchestrator runs the full pipeline for single documents.
type Orchestrator struct {
	ledger   state.Store
	ocr      OCRRunner
	nlp      Normalizer
	recorder *Recorder
	cfg      Config
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(ledger state.Store, ocrSvc OCRRunner, nlpSvc Normalizer, cfg Config) *Orchestrator {
	if cfg.OutputPrefix == "" {
		cfg.OutputPrefix = "openai/"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Orchestrator{
		ledger:   ledger,
		ocr:      ocrSvc,
		nlp:      nlpSvc,
		recorder: NewRecorder(ledger),
		cfg:      cfg,
	}
}

// ProcessDocument runs one attempt of the full pipeline for the document at
// inputKey. Completed documents return immediately; failed or interrupted
// ones run again from the top, reusing whatever artifacts earlier phases
// left behind.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID, inputKey string) (*model.DocumentRecord, error) {
	record, err := o.ledger.InitIfAbsent(ctx, documentID, uuid.NewString())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: init document")
	}
	if record.OverallStatus == model.StatusCompleted {
		zap.L().Info("pipeline: document already completed", zap.String("doc", documentID))
		return record, nil
	}

	attempt := nextAttempt(record)
	inputURI := objectstore.URI(o.cfg.Bucket, inputKey)
	zap.L().Info("pipeline: run starting",
		zap.String("doc", documentID),
		zap.String("input", inputURI),
		zap.Int("attempt", attempt),
	)

	if err := o.advance(ctx, documentID, model.StatusRunning, "", ""); err != nil {
		return nil, err
	}
	if err := o.recorder.RecordPipelineStarted(ctx, documentID, inputURI, attempt); err != nil {
		return nil, eris.Wrap(err, "pipeline: record start")
	}

	ocrRes, err := o.runTextract(ctx, documentID, inputKey, inputURI, attempt)
	if err != nil {
		o.recordRunFailed(ctx, documentID, err)
		return nil, err
	}

	nlpRes, err := o.runNLP(ctx, documentID, inputKey, ocrRes, attempt)
	if err != nil {
		o.recordRunFailed(ctx, documentID, err)
		return nil, err
	}

	if err := o.recorder.RecordPipelineSucceeded(ctx, documentID, nlpRes.BusinessURI); err != nil {
		return nil, eris.Wrap(err, "pipeline: record success")
	}
	if err := o.advance(ctx, documentID, model.StatusCompleted, nlpRes.BusinessKey, nlpRes.BusinessURI); err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: run completed",
		zap.String("doc", documentID),
		zap.String("output", nlpRes.BusinessURI),
	)
	return o.ledger.Get(ctx, documentID)
}

func (o *Orchestrator) runTextract(ctx context.Context, documentID, inputKey, inputURI string, attempt int) (*ocr.Result, error) {
	if err := o.recorder.RecordTextractStarted(ctx, documentID, inputURI, attempt); err != nil {
		return nil, eris.Wrap(err, "pipeline: record textract start")
	}
	res, err := o.ocr.ProcessFile(ctx, o.cfg.Bucket, inputKey, o.cfg.Threshold)
	if err != nil {
		if recErr := o.recorder.RecordTextractFailed(ctx, documentID, err); recErr != nil {
			zap.L().Error("pipeline: failed to record textract failure", zap.Error(recErr))
		}
		return nil, eris.Wrap(err, "pipeline: textract phase")
	}
	if err := o.recorder.RecordTextractSucceeded(ctx, documentID, res); err != nil {
		return nil, eris.Wrap(err, "pipeline: record textract success")
	}
	if err := o.advance(ctx, documentID, model.StatusTextractCompleted, "", ""); err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) runNLP(ctx context.Context, documentID, inputKey string, ocrRes *ocr.Result, attempt int) (*nlp.Result, error) {
	if err := o.recorder.RecordNLPStarted(ctx, documentID, ocrRes.URI, attempt); err != nil {
		return nil, eris.Wrap(err, "pipeline: record nlp start")
	}
	outputKey := o.deriveOutputKey(inputKey)
	res, err := o.nlp.Normalize(ctx, ocrRes.OutputKey, outputKey, o.cfg.Threshold)
	if err != nil {
		if recErr := o.recorder.RecordNLPFailed(ctx, documentID, err); recErr != nil {
			zap.L().Error("pipeline: failed to record nlp failure", zap.Error(recErr))
		}
		return nil, eris.Wrap(err, "pipeline: nlp phase")
	}
	if err := o.recorder.RecordNLPSucceeded(ctx, documentID, res); err != nil {
		return nil, eris.Wrap(err, "pipeline: record nlp success")
	}
	if err := o.advance(ctx, documentID, model.StatusNLPCompleted, "", ""); err != nil {
		return nil, err
	}
	return res, nil
}

// recordRunFailed closes the PIPELINE bracket after a phase failure so the
// sweep can read the attempt's outcome from one place.
func (o *Orchestrator) recordRunFailed(ctx context.Context, documentID string, cause error) {
	if err := o.recorder.RecordPipelineFailed(ctx, documentID, cause); err != nil {
		zap.L().Error("pipeline: failed to record run failure", zap.Error(err))
	}
}

// advance moves the overall status forward, tolerating re-runs that have
// already passed the target state.
func (o *Orchestrator) advance(ctx context.Context, documentID string, next model.DocumentStatus, finalKey, finalURI string) error {
	record, err := o.ledger.Get(ctx, documentID)
	if err != nil {
		return eris.Wrap(err, "pipeline: read status")
	}
	if record == nil {
		return eris.Errorf("pipeline: document %s is not tracked", documentID)
	}
	if record.OverallStatus == next {
		return nil
	}
	if !record.OverallStatus.CanTransitionTo(next) {
		// Re-entering RUNNING is the retry edge and not part of the forward
		// order: failed runs and runs interrupted mid-pipeline start over
		// from the top. Everything else stays illegal.
		if next != model.StatusRunning || record.OverallStatus == model.StatusCompleted {
			return eris.Errorf("pipeline: illegal transition %s -> %s for %s",
				record.OverallStatus, next, documentID)
		}
	}
	if err := o.ledger.SetOverall(ctx, documentID, next, finalKey, finalURI); err != nil {
		return eris.Wrap(err, "pipeline: set status")
	}
	return nil
}

// deriveOutputKey names the normalized output after the input file plus the
// run timestamp, keeping successive attempts distinguishable.
func (o *Orchestrator) deriveOutputKey(inputKey string) string {
	base := path.Base(inputKey)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	stamp := o.cfg.Clock().UTC().Format("20060102T150405")
	return o.cfg.OutputPrefix + base + "-" + stamp + ".json"
}

// nextAttempt derives the attempt number from the prior pipeline phase
// record. Attempts are supplied by the caller of the merge, not counted by
// the store.
func nextAttempt(record *model.DocumentRecord) int {
	prior := record.PhaseFor(model.PhasePipeline)
	if prior == nil || prior.Attempts == nil {
		return 1
	}
	return *prior.Attempts + 1
}
