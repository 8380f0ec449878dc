// Package state persists the per-document processing ledger: one record per
// document holding the overall status, per-phase summaries, and artifact
// references.
package state

import (
	"context"

	"github.com/cario/title-extract/internal/model"
)

// DocumentFilter specifies criteria for listing document records.
type DocumentFilter struct {
	Status model.DocumentStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the document ledger. Get
// returns (nil, nil) for an unknown document. All mutating operations are
// idempotent at the record level: re-applying a delta never loses earlier
// phase data.
type Store interface {
	// Get returns the ledger record, or (nil, nil) when the document is unknown.
	Get(ctx context.Context, documentID string) (*model.DocumentRecord, error)

	// InitIfAbsent creates a PENDING record unless one already exists and
	// returns the current record either way. First writer wins.
	InitIfAbsent(ctx context.Context, documentID, correlationID string) (*model.DocumentRecord, error)

	// UpsertPhase merges delta into the named phase record. Unset delta
	// fields leave existing values alone; messages concatenate and
	// artifacts append per type.
	UpsertPhase(ctx context.Context, documentID string, phase model.Phase, delta model.PhaseRecord) error

	// AppendArtifact records one produced artifact under phase/type,
	// starting the phase implicitly if it has no record yet.
	AppendArtifact(ctx context.Context, documentID string, phase model.Phase, artifactType string, artifact model.Artifact) error

	// SetOverall updates the document-level status and final output pointers.
	SetOverall(ctx context.Context, documentID string, status model.DocumentStatus, finalKey, finalURI string) error

	// List returns records matching the filter, most recently updated first.
	List(ctx context.Context, filter DocumentFilter) ([]model.DocumentRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
