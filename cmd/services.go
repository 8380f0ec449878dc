package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/cario/title-extract/internal/nlp"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/ocr"
	"github.com/cario/title-extract/internal/pipeline"
	"github.com/cario/title-extract/internal/prompt"
	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/state"
	"github.com/cario/title-extract/pkg/chat"
)

// initLedger opens the configured document ledger and runs migrations.
func initLedger(ctx context.Context) (state.Store, error) {
	var (
		st  state.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = state.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		st, err = state.NewSQLite(cfg.Store.Path)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init ledger")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}
	return st, nil
}

// initObjects opens the filesystem object store under the configured root.
func initObjects() (objectstore.Store, error) {
	store, err := objectstore.NewDir(cfg.Objects.Root)
	if err != nil {
		return nil, eris.Wrap(err, "init object store")
	}
	return store, nil
}

// buildOrchestrator wires the full pipeline: replay-backed OCR, Anthropic
// NLP, and the ledger-backed orchestrator.
func buildOrchestrator(ledger state.Store, objects objectstore.Store) *pipeline.Orchestrator {
	ocrSvc := ocr.NewService(objects, ocr.NewReplayClient(objects), ocr.ServiceConfig{
		OutputBucket: cfg.Objects.Bucket,
		OutputPrefix: cfg.Objects.TextractPrefix,
		PollOptions: []ocr.PollOption{
			ocr.WithPollInterval(cfg.Textract.PollInterval()),
			ocr.WithPollTimeout(cfg.Textract.PollTimeout()),
		},
	})

	nlpSvc := nlp.NewService(objects, chat.NewClient(cfg.Anthropic.Key), prompt.NewLoader(objects), nlp.ServiceConfig{
		Bucket:            cfg.Objects.Bucket,
		Model:             cfg.Anthropic.Model,
		MaxTokens:         int64(cfg.Anthropic.MaxTokens),
		MaxChunkChars:     cfg.NLP.MaxChunkChars,
		PromptKey:         cfg.Objects.PromptKey,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
		Burst:             cfg.Anthropic.Burst,
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

	return pipeline.NewOrchestrator(ledger, ocrSvc, nlpSvc, pipeline.Config{
		Bucket:       cfg.Objects.Bucket,
		Threshold:    cfg.Textract.ConfidenceThreshold,
		OutputPrefix: cfg.Objects.OutputPrefix,
	})
}

// requeuePolicy builds the sweep retry policy from configuration.
func requeuePolicy() resilience.RequeuePolicy {
	policy := resilience.DefaultRequeuePolicy()
	if cfg.Sweep.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Sweep.MaxAttempts
	}
	if cfg.Sweep.CooldownMinutes > 0 {
		policy.Cooldown = cfg.Sweep.Cooldown()
	}
	return policy
}
