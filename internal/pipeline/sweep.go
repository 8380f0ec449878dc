package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/state"
)

// DocumentProcessor runs one full pipeline attempt for a document.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID, inputKey string) (*model.DocumentRecord, error)
}

// SweepConfig tunes one sweep pass.
type SweepConfig struct {
	Bucket      string
	InputPrefix string

	// MaxPerRun caps how many documents one pass may process. Default: 25.
	MaxPerRun int

	// Workers bounds concurrent pipeline runs. Default: 4.
	Workers int

	// DryRun reports what would be processed without running anything.
	DryRun bool

	Requeue resilience.RequeuePolicy
	Clock   func() time.Time
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned   int
	Skipped   int
	Eligible  int
	Processed int
	Failed    int

	// Candidates lists the document keys a dry run would have processed.
	Candidates []string
}

// Sweeper finds unprocessed or retryable documents under the input prefix
// and pushes them through the pipeline. One pass per call; scheduling lives
// with the caller.
type Sweeper struct {
	store     objectstore.Store
	ledger    state.Store
	processor DocumentProcessor
	cfg       SweepConfig
}

// NewSweeper wires a Sweeper.
func NewSweeper(store objectstore.Store, ledger state.Store, processor DocumentProcessor, cfg SweepConfig) *Sweeper {
	if cfg.InputPrefix == "" {
		cfg.InputPrefix = "input/"
	}
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = 25
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Requeue.MaxAttempts == 0 {
		cfg.Requeue = resilience.DefaultRequeuePolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Sweeper{store: store, ledger: ledger, processor: processor, cfg: cfg}
}

// Sweep runs one pass: list the input prefix, pick eligible documents, and
// process up to MaxPerRun of them concurrently. Individual document failures
// are counted, not returned; the pass itself only fails on listing errors.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	keys, err := s.store.List(ctx, s.cfg.Bucket, s.cfg.InputPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list input prefix")
	}

	report := &SweepReport{Scanned: len(keys)}
	now := s.cfg.Clock()

	var candidates []string
	for _, key := range keys {
		eligible, reason, err := s.eligible(ctx, key, now)
		if err != nil {
			return nil, err
		}
		if !eligible {
			report.Skipped++
			continue
		}
		if len(candidates) >= s.cfg.MaxPerRun {
			zap.L().Debug("sweep: run cap reached, deferring", zap.String("doc", key))
			report.Skipped++
			continue
		}
		candidates = append(candidates, key)
		zap.L().Debug("sweep: candidate", zap.String("doc", key), zap.String("reason", reason))
	}
	report.Eligible = len(candidates)

	if s.cfg.DryRun {
		report.Candidates = candidates
		zap.L().Info("sweep: dry run",
			zap.Int("scanned", report.Scanned),
			zap.Int("eligible", report.Eligible),
		)
		return report, nil
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Workers)
	for _, key := range candidates {
		group.Go(func() error {
			_, err := s.processor.ProcessDocument(groupCtx, key, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				zap.L().Warn("sweep: document failed", zap.String("doc", key), zap.Error(err))
				return nil
			}
			report.Processed++
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, eris.Wrap(err, "pipeline: sweep workers")
	}

	zap.L().Info("sweep: pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("eligible", report.Eligible),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// eligible decides whether one input object should be processed this pass.
// Untracked and PENDING documents always qualify; FAILED ones go through the
// requeue policy; everything else is either done or currently in flight.
func (s *Sweeper) eligible(ctx context.Context, key string, now time.Time) (bool, string, error) {
	record, err := s.ledger.Get(ctx, key)
	if err != nil {
		return false, "", eris.Wrap(err, "pipeline: read sweep record")
	}
	if record == nil {
		return true, "untracked", nil
	}
	switch record.OverallStatus {
	case model.StatusPending:
		return true, "pending", nil
	case model.StatusFailed:
		if s.cfg.Requeue.Eligible(failureAttempts(record), failureTime(record), failureClass(record), now) {
			return true, "requeue", nil
		}
		return false, "", nil
	default:
		// COMPLETED, or a run is already under way.
		return false, "", nil
	}
}

func failureAttempts(record *model.DocumentRecord) int {
	if prior := record.PhaseFor(model.PhasePipeline); prior != nil && prior.Attempts != nil {
		return *prior.Attempts
	}
	return 1
}

func failureTime(record *model.DocumentRecord) time.Time {
	// The failing phase carries the completion time of the last attempt.
	var latest time.Time
	for _, phase := range record.Phases {
		if phase.Status == model.PhaseFailed && phase.CompletedAt != nil && phase.CompletedAt.After(latest) {
			latest = *phase.CompletedAt
		}
	}
	if latest.IsZero() {
		return record.UpdatedAt
	}
	return latest
}

// failureClass reads the classification prefix the recorder writes into the
// failure message. Unknown shapes default to transient so the attempt cap
// still applies.
func failureClass(record *model.DocumentRecord) string {
	for _, phase := range record.Phases {
		if phase.Status != model.PhaseFailed {
			continue
		}
		for _, msg := range phase.Messages {
			if strings.HasPrefix(msg, "permanent:") {
				return "permanent"
			}
		}
	}
	return "transient"
}
