package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/nlp"
	"github.com/cario/title-extract/internal/ocr"
	"github.com/cario/title-extract/internal/state"
)

func newTestLedger(t *testing.T) state.Store {
	t.Helper()
	s, err := state.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fakeOCR struct {
	mu    sync.Mutex
	calls int
	res   *ocr.Result
	err   error
}

func (f *fakeOCR) ProcessFile(_ context.Context, _, inputKey string, _ float64) (*ocr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &ocr.Result{
		OutputKey: "textract/" + inputKey + ".json",
		URI:       "s3://titles/textract/" + inputKey + ".json",
		Stats:     model.ConfidenceStats{Avg: 95.5, Min: 90, Max: 99, BlockCount: 12},
	}, nil
}

type fakeNLP struct {
	mu    sync.Mutex
	calls int
	keys  []string
	err   error
}

func (f *fakeNLP) Normalize(_ context.Context, elementsKey, outputKey string, _ float64) (*nlp.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keys = append(f.keys, elementsKey)
	if f.err != nil {
		return nil, f.err
	}
	businessKey := "openai/doc.business.json"
	return &nlp.Result{
		Chunks:        1,
		ModelName:     "claude-haiku-4-5-20251001",
		PromptKey:     "prompts/nlp.yaml",
		NormalizedKey: outputKey,
		NormalizedURI: "s3://titles/" + outputKey,
		BusinessKey:   businessKey,
		BusinessURI:   "s3://titles/" + businessKey,
		SchemaValid:   true,
	}, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestProcessDocument_HappyPath(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{}
	nlpSvc := &fakeNLP{}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles", Threshold: 90})

	record, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, record.OverallStatus)
	assert.Equal(t, "openai/doc.business.json", record.FinalOutputKey)
	assert.Equal(t, "s3://titles/openai/doc.business.json", record.FinalOutputURI)

	textract := record.PhaseFor(model.PhaseTextract)
	require.NotNil(t, textract)
	assert.Equal(t, model.PhaseSucceeded, textract.Status)
	assert.Equal(t, 95.5, *textract.AvgConfidence)
	assert.Len(t, textract.Artifacts["json"], 1)

	nlpPhase := record.PhaseFor(model.PhaseNLP)
	require.NotNil(t, nlpPhase)
	assert.Equal(t, model.PhaseSucceeded, nlpPhase.Status)
	assert.Equal(t, "claude-haiku-4-5-20251001", nlpPhase.ModelName)
	assert.Len(t, nlpPhase.Artifacts["business"], 1)

	pipeline := record.PhaseFor(model.PhasePipeline)
	require.NotNil(t, pipeline)
	assert.Equal(t, model.PhaseSucceeded, pipeline.Status)
	assert.Equal(t, 1, *pipeline.Attempts)

	// NLP consumed the OCR output key.
	assert.Equal(t, []string{"textract/input/doc.pdf.json"}, nlpSvc.keys)
}

func TestProcessDocument_CompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{}
	nlpSvc := &fakeNLP{}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles"})

	_, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.NoError(t, err)

	record, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, record.OverallStatus)
	assert.Equal(t, 1, ocrSvc.calls)
	assert.Equal(t, 1, nlpSvc.calls)
}

func TestProcessDocument_OCRFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{err: eris.New("textract unavailable")}
	nlpSvc := &fakeNLP{}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles"})

	_, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.Error(t, err)
	assert.Equal(t, 0, nlpSvc.calls)

	record, err := ledger.Get(ctx, "input/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.OverallStatus)

	textract := record.PhaseFor(model.PhaseTextract)
	require.NotNil(t, textract)
	assert.Equal(t, model.PhaseFailed, textract.Status)
	require.NotEmpty(t, textract.Messages)
	assert.Contains(t, textract.Messages[0], "textract unavailable")

	assert.Equal(t, model.PhaseFailed, record.PhaseFor(model.PhasePipeline).Status)
}

func TestProcessDocument_NLPFailurePreservesTextract(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{}
	nlpSvc := &fakeNLP{err: eris.New("model overloaded")}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles"})

	_, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.Error(t, err)

	record, err := ledger.Get(ctx, "input/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.OverallStatus)
	assert.Equal(t, model.PhaseSucceeded, record.PhaseFor(model.PhaseTextract).Status)
	assert.Equal(t, model.PhaseFailed, record.PhaseFor(model.PhaseNLP).Status)
}

func TestProcessDocument_FailedRerunKeepsEarlierArtifacts(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{}
	nlpSvc := &fakeNLP{err: eris.New("model overloaded")}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles"})

	// First attempt: OCR succeeds and records its artifact, NLP fails.
	_, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.Error(t, err)

	// Second attempt: now OCR itself fails.
	ocrSvc.err = eris.New("textract unavailable")
	_, err = orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.Error(t, err)

	record, err := ledger.Get(ctx, "input/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.OverallStatus)

	textract := record.PhaseFor(model.PhaseTextract)
	require.NotNil(t, textract)
	assert.Equal(t, model.PhaseFailed, textract.Status)
	// The artifact from the earlier successful pass survives the failure.
	assert.Len(t, textract.Artifacts["json"], 1)
}

func TestProcessDocument_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{err: eris.New("textract unavailable")}
	nlpSvc := &fakeNLP{}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles"})

	_, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.Error(t, err)

	ocrSvc.err = nil
	record, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, record.OverallStatus)
	assert.Equal(t, 2, *record.PhaseFor(model.PhasePipeline).Attempts)
}

func TestProcessDocument_ResumesInterruptedRun(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	ocrSvc := &fakeOCR{}
	nlpSvc := &fakeNLP{}
	orch := NewOrchestrator(ledger, ocrSvc, nlpSvc, Config{Bucket: "titles"})

	// A crash between phases leaves the document parked mid-pipeline.
	_, err := ledger.InitIfAbsent(ctx, "input/doc.pdf", "corr-1")
	require.NoError(t, err)
	require.NoError(t, ledger.SetOverall(ctx, "input/doc.pdf", model.StatusRunning, "", ""))
	require.NoError(t, ledger.SetOverall(ctx, "input/doc.pdf", model.StatusTextractCompleted, "", ""))

	record, err := orch.ProcessDocument(ctx, "input/doc.pdf", "input/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, record.OverallStatus)
	assert.Equal(t, 1, ocrSvc.calls)
	assert.Equal(t, 1, nlpSvc.calls)
}

func TestDeriveOutputKey(t *testing.T) {
	clock := fixedClock(time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC))
	orch := NewOrchestrator(newTestLedger(t), &fakeOCR{}, &fakeNLP{}, Config{
		Bucket: "titles",
		Clock:  clock,
	})

	assert.Equal(t, "openai/doc-20260827T120000.json", orch.deriveOutputKey("input/abc/doc.pdf"))
	assert.Equal(t, "openai/scan-20260827T120000.json", orch.deriveOutputKey("scan"))
}
