package state

import (
	"time"

	"github.com/cario/title-extract/internal/model"
)

// MergePhase combines an existing phase record with an incoming delta and
// returns a new record. Set scalar fields in the delta win; unset fields
// (empty strings, nil pointers) leave the existing value alone. Messages
// concatenate in order and artifacts append per type, so earlier progress is
// never lost. Neither input is mutated.
func MergePhase(existing *model.PhaseRecord, incoming model.PhaseRecord) *model.PhaseRecord {
	merged := &model.PhaseRecord{}
	if existing != nil {
		*merged = *existing
		merged.Messages = append([]string(nil), existing.Messages...)
		if existing.Artifacts != nil {
			arts := make(map[string][]model.Artifact, len(existing.Artifacts))
			for typ, list := range existing.Artifacts {
				arts[typ] = append([]model.Artifact(nil), list...)
			}
			merged.Artifacts = arts
		}
	}

	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if incoming.StartedAt != nil {
		merged.StartedAt = incoming.StartedAt
	}
	if incoming.CompletedAt != nil {
		merged.CompletedAt = incoming.CompletedAt
	}
	if incoming.Attempts != nil {
		merged.Attempts = incoming.Attempts
	}
	if incoming.DurationMS != nil {
		merged.DurationMS = incoming.DurationMS
	}
	if incoming.InputURI != "" {
		merged.InputURI = incoming.InputURI
	}
	if incoming.OutputURI != "" {
		merged.OutputURI = incoming.OutputURI
	}
	if incoming.AvgConfidence != nil {
		merged.AvgConfidence = incoming.AvgConfidence
	}
	if incoming.MinConfidence != nil {
		merged.MinConfidence = incoming.MinConfidence
	}
	if incoming.MaxConfidence != nil {
		merged.MaxConfidence = incoming.MaxConfidence
	}
	if incoming.BlockCount != nil {
		merged.BlockCount = incoming.BlockCount
	}
	if incoming.ModelName != "" {
		merged.ModelName = incoming.ModelName
	}
	if incoming.PromptKey != "" {
		merged.PromptKey = incoming.PromptKey
	}
	if incoming.PromptVersion != "" {
		merged.PromptVersion = incoming.PromptVersion
	}
	if incoming.SchemaName != "" {
		merged.SchemaName = incoming.SchemaName
	}

	if len(incoming.Messages) > 0 {
		merged.Messages = append(merged.Messages, incoming.Messages...)
	}
	if len(incoming.Artifacts) > 0 {
		if merged.Artifacts == nil {
			merged.Artifacts = make(map[string][]model.Artifact, len(incoming.Artifacts))
		}
		for typ, list := range incoming.Artifacts {
			merged.Artifacts[typ] = append(merged.Artifacts[typ], list...)
		}
	}

	return merged
}

// applyPhase merges delta into the record in place and bumps UpdatedAt.
func applyPhase(rec *model.DocumentRecord, phase model.Phase, delta model.PhaseRecord, now time.Time) {
	if rec.Phases == nil {
		rec.Phases = make(map[model.Phase]*model.PhaseRecord)
	}
	rec.Phases[phase] = MergePhase(rec.Phases[phase], delta)
	rec.UpdatedAt = now
}

// startedPhase is the implicit record created when an artifact arrives for a
// phase that was never started explicitly.
func startedPhase(now time.Time) model.PhaseRecord {
	attempts := 1
	return model.PhaseRecord{
		Status:    model.PhaseStarted,
		StartedAt: &now,
		Attempts:  &attempts,
	}
}

// artifactDelta wraps a single artifact as a phase delta.
func artifactDelta(artifactType string, artifact model.Artifact) model.PhaseRecord {
	return model.PhaseRecord{
		Artifacts: map[string][]model.Artifact{artifactType: {artifact}},
	}
}

// newRecord builds a fresh PENDING ledger record.
func newRecord(documentID, correlationID string, now time.Time) *model.DocumentRecord {
	return &model.DocumentRecord{
		ID:            documentID,
		CorrelationID: correlationID,
		OverallStatus: model.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Phases:        make(map[model.Phase]*model.PhaseRecord),
	}
}
