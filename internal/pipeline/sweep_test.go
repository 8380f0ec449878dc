package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/state"
)

type fakeProcessor struct {
	mu     sync.Mutex
	docs   []string
	failOn map[string]bool
}

func (f *fakeProcessor) ProcessDocument(_ context.Context, documentID, _ string) (*model.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, documentID)
	if f.failOn[documentID] {
		return nil, eris.New("boom")
	}
	return &model.DocumentRecord{ID: documentID, OverallStatus: model.StatusCompleted}, nil
}

func (f *fakeProcessor) processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.docs...)
	sort.Strings(out)
	return out
}

func seedInput(t *testing.T, store *objectstore.Mem, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, store.PutBytes(context.Background(), "titles", key, []byte("doc"), "application/pdf"))
	}
}

func markFailed(t *testing.T, ledger state.Store, id string, attempts int, failedAt time.Time, class string) {
	t.Helper()
	ctx := context.Background()
	_, err := ledger.InitIfAbsent(ctx, id, "corr")
	require.NoError(t, err)
	require.NoError(t, ledger.UpsertPhase(ctx, id, model.PhasePipeline, model.PhaseRecord{
		Status:      model.PhaseFailed,
		Attempts:    &attempts,
		CompletedAt: &failedAt,
		Messages:    []string{class + ": upstream failure"},
	}))
	require.NoError(t, ledger.SetOverall(ctx, id, model.StatusFailed, "", ""))
}

func TestSweep_ProcessesUntrackedSkipsCompleted(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	ledger := newTestLedger(t)
	seedInput(t, store, "input/a.pdf", "input/b.pdf", "input/c.pdf")

	// c is already done.
	_, err := ledger.InitIfAbsent(ctx, "input/c.pdf", "corr")
	require.NoError(t, err)
	require.NoError(t, ledger.SetOverall(ctx, "input/c.pdf", model.StatusCompleted, "k", "u"))

	proc := &fakeProcessor{}
	sw := NewSweeper(store, ledger, proc, SweepConfig{Bucket: "titles", InputPrefix: "input/"})

	report, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Eligible)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"input/a.pdf", "input/b.pdf"}, proc.processed())
}

func TestSweep_SkipsInFlightDocuments(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	ledger := newTestLedger(t)
	seedInput(t, store, "input/a.pdf")

	_, err := ledger.InitIfAbsent(ctx, "input/a.pdf", "corr")
	require.NoError(t, err)
	require.NoError(t, ledger.SetOverall(ctx, "input/a.pdf", model.StatusRunning, "", ""))

	proc := &fakeProcessor{}
	sw := NewSweeper(store, ledger, proc, SweepConfig{Bucket: "titles"})

	report, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Eligible)
	assert.Empty(t, proc.processed())
}

func TestSweep_DryRunListsWithoutProcessing(t *testing.T) {
	store := objectstore.NewMem()
	seedInput(t, store, "input/a.pdf", "input/b.pdf")

	proc := &fakeProcessor{}
	sw := NewSweeper(store, newTestLedger(t), proc, SweepConfig{Bucket: "titles", DryRun: true})

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Eligible)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, []string{"input/a.pdf", "input/b.pdf"}, report.Candidates)
	assert.Empty(t, proc.processed())
}

func TestSweep_MaxPerRunCapsWork(t *testing.T) {
	store := objectstore.NewMem()
	seedInput(t, store, "input/a.pdf", "input/b.pdf", "input/c.pdf")

	proc := &fakeProcessor{}
	sw := NewSweeper(store, newTestLedger(t), proc, SweepConfig{Bucket: "titles", MaxPerRun: 1})

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Eligible)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, report.Skipped)
}

func TestSweep_RequeuesFailedAfterCooldown(t *testing.T) {
	store := objectstore.NewMem()
	ledger := newTestLedger(t)
	seedInput(t, store, "input/a.pdf", "input/b.pdf", "input/c.pdf")

	now := time.Now()
	// a: transient failure past the cooldown, one attempt left.
	markFailed(t, ledger, "input/a.pdf", 1, now.Add(-time.Hour), "transient")
	// b: attempts exhausted.
	markFailed(t, ledger, "input/b.pdf", 3, now.Add(-time.Hour), "transient")
	// c: permanent failure.
	markFailed(t, ledger, "input/c.pdf", 1, now.Add(-time.Hour), "permanent")

	proc := &fakeProcessor{}
	sw := NewSweeper(store, ledger, proc, SweepConfig{
		Bucket:  "titles",
		Requeue: resilience.DefaultRequeuePolicy(),
		Clock:   fixedClock(now),
	})

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"input/a.pdf"}, proc.processed())
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, report.Skipped)
}

func TestSweep_FreshFailureWaitsForCooldown(t *testing.T) {
	store := objectstore.NewMem()
	ledger := newTestLedger(t)
	seedInput(t, store, "input/a.pdf")

	now := time.Now()
	markFailed(t, ledger, "input/a.pdf", 1, now.Add(-time.Minute), "transient")

	proc := &fakeProcessor{}
	sw := NewSweeper(store, ledger, proc, SweepConfig{Bucket: "titles", Clock: fixedClock(now)})

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Eligible)
	assert.Empty(t, proc.processed())
}

func TestSweep_CountsDocumentFailures(t *testing.T) {
	store := objectstore.NewMem()
	seedInput(t, store, "input/a.pdf", "input/b.pdf")

	proc := &fakeProcessor{failOn: map[string]bool{"input/b.pdf": true}}
	sw := NewSweeper(store, newTestLedger(t), proc, SweepConfig{Bucket: "titles"})

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
}
