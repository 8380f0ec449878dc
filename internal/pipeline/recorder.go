package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/nlp"
	"github.com/cario/title-extract/internal/ocr"
	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/state"
)

// Recorder writes phase progress into the document ledger. Phase failures
// also drive the overall status to FAILED; earlier phase data is preserved
// by the store's merge semantics.
type Recorder struct {
	store state.Store
	clock func() time.Time
}

// NewRecorder returns a Recorder writing to the given store.
func NewRecorder(store state.Store) *Recorder {
	return &Recorder{store: store, clock: time.Now}
}

func (r *Recorder) started(ctx context.Context, id string, phase model.Phase, inputURI string, attempt int) error {
	now := r.clock()
	delta := model.PhaseRecord{
		Status:    model.PhaseStarted,
		StartedAt: &now,
		InputURI:  inputURI,
	}
	if attempt > 0 {
		delta.Attempts = &attempt
	}
	return r.store.UpsertPhase(ctx, id, phase, delta)
}

func (r *Recorder) succeeded(ctx context.Context, id string, phase model.Phase, delta model.PhaseRecord) error {
	now := r.clock()
	delta.Status = model.PhaseSucceeded
	delta.CompletedAt = &now
	return r.store.UpsertPhase(ctx, id, phase, delta)
}

func (r *Recorder) failed(ctx context.Context, id string, phase model.Phase, cause error) error {
	now := r.clock()
	// The classification prefix lets the sweep's requeue policy tell
	// transient failures from permanent ones later.
	delta := model.PhaseRecord{
		Status:      model.PhaseFailed,
		CompletedAt: &now,
		Messages:    []string{resilience.ClassifyError(cause) + ": " + eris.ToString(cause, false)},
	}
	if err := r.store.UpsertPhase(ctx, id, phase, delta); err != nil {
		return err
	}
	return r.store.SetOverall(ctx, id, model.StatusFailed, "", "")
}

// Upload phase.

func (r *Recorder) RecordUploadStarted(ctx context.Context, id, inputURI string) error {
	return r.started(ctx, id, model.PhaseUpload, inputURI, 1)
}

func (r *Recorder) RecordUploadSucceeded(ctx context.Context, id string, artifact model.Artifact) error {
	if err := r.succeeded(ctx, id, model.PhaseUpload, model.PhaseRecord{OutputURI: artifact.URI}); err != nil {
		return err
	}
	return r.store.AppendArtifact(ctx, id, model.PhaseUpload, artifact.Type, artifact)
}

func (r *Recorder) RecordUploadFailed(ctx context.Context, id string, cause error) error {
	return r.failed(ctx, id, model.PhaseUpload, cause)
}

// OCR phase.

func (r *Recorder) RecordTextractStarted(ctx context.Context, id, inputURI string, attempt int) error {
	return r.started(ctx, id, model.PhaseTextract, inputURI, attempt)
}

func (r *Recorder) RecordTextractSucceeded(ctx context.Context, id string, res *ocr.Result) error {
	blockCount := res.Stats.BlockCount
	delta := model.PhaseRecord{
		OutputURI:     res.URI,
		AvgConfidence: &res.Stats.Avg,
		MinConfidence: &res.Stats.Min,
		MaxConfidence: &res.Stats.Max,
		BlockCount:    &blockCount,
	}
	if res.Skipped {
		delta.Messages = []string{"reused existing OCR output"}
	}
	if err := r.succeeded(ctx, id, model.PhaseTextract, delta); err != nil {
		return err
	}
	return r.store.AppendArtifact(ctx, id, model.PhaseTextract, "json", model.Artifact{
		Type:        "json",
		Key:         res.OutputKey,
		URI:         res.URI,
		ContentType: "application/json",
		CreatedAt:   r.clock(),
	})
}

func (r *Recorder) RecordTextractFailed(ctx context.Context, id string, cause error) error {
	return r.failed(ctx, id, model.PhaseTextract, cause)
}

// NLP phase.

func (r *Recorder) RecordNLPStarted(ctx context.Context, id, inputURI string, attempt int) error {
	return r.started(ctx, id, model.PhaseNLP, inputURI, attempt)
}

func (r *Recorder) RecordNLPSucceeded(ctx context.Context, id string, res *nlp.Result) error {
	delta := model.PhaseRecord{
		OutputURI: res.BusinessURI,
		ModelName: res.ModelName,
		PromptKey: res.PromptKey,
	}
	if !res.SchemaValid {
		delta.Messages = []string{"business record failed schema validation"}
	}
	if err := r.succeeded(ctx, id, model.PhaseNLP, delta); err != nil {
		return err
	}
	for artifactType, key := range map[string]string{
		"normalized": res.NormalizedKey,
		"business":   res.BusinessKey,
	} {
		if key == "" {
			continue
		}
		uri := res.NormalizedURI
		if artifactType == "business" {
			uri = res.BusinessURI
		}
		err := r.store.AppendArtifact(ctx, id, model.PhaseNLP, artifactType, model.Artifact{
			Type:        artifactType,
			Key:         key,
			URI:         uri,
			ContentType: "application/json",
			CreatedAt:   r.clock(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) RecordNLPFailed(ctx context.Context, id string, cause error) error {
	return r.failed(ctx, id, model.PhaseNLP, cause)
}

// Pipeline phase brackets the whole run.

func (r *Recorder) RecordPipelineStarted(ctx context.Context, id, inputURI string, attempt int) error {
	return r.started(ctx, id, model.PhasePipeline, inputURI, attempt)
}

func (r *Recorder) RecordPipelineSucceeded(ctx context.Context, id, finalURI string) error {
	return r.succeeded(ctx, id, model.PhasePipeline, model.PhaseRecord{OutputURI: finalURI})
}

func (r *Recorder) RecordPipelineFailed(ctx context.Context, id string, cause error) error {
	return r.failed(ctx, id, model.PhasePipeline, cause)
}
