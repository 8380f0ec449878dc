package model

import "time"

// DocumentStatus is the overall lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending           DocumentStatus = "PENDING"
	StatusRunning           DocumentStatus = "RUNNING"
	StatusTextractCompleted DocumentStatus = "TEXTRACT_COMPLETED"
	StatusNLPCompleted      DocumentStatus = "NLP_COMPLETED"
	StatusCompleted         DocumentStatus = "COMPLETED"
	StatusFailed            DocumentStatus = "FAILED"
)

// statusRank orders the forward-only progression. FAILED sits outside the
// ordering: it is reachable from any non-terminal state.
var statusRank = map[DocumentStatus]int{
	StatusPending:           0,
	StatusRunning:           1,
	StatusTextractCompleted: 2,
	StatusNLPCompleted:      3,
	StatusCompleted:         4,
}

// Terminal reports whether no further status transitions are allowed.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// progression: forward along the pipeline order, or to FAILED from any
// non-terminal state.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// PhaseStatus is the lifecycle state of a single processing phase.
type PhaseStatus string

const (
	PhaseStarted   PhaseStatus = "STARTED"
	PhaseSucceeded PhaseStatus = "SUCCEEDED"
	PhaseFailed    PhaseStatus = "FAILED"
)

// Phase identifies a processing phase within a document run.
type Phase string

const (
	PhaseUpload   Phase = "UPLOAD"
	PhaseTextract Phase = "TEXTRACT"
	PhaseNLP      Phase = "NLP"
	PhasePipeline Phase = "PIPELINE"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseUpload, PhaseTextract, PhaseNLP, PhasePipeline:
		return true
	}
	return false
}

// Artifact is a single produced output (OCR blocks JSON, normalized JSON,
// page image, etc.) tracked within a phase.
type Artifact struct {
	Type        string            `json:"type"`
	Key         string            `json:"key"`
	URI         string            `json:"uri,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// PhaseRecord captures the lifecycle of a single processing phase. It doubles
// as the merge delta for ProcessStateStore.UpsertPhase: zero-valued strings
// and nil pointers mean "leave the existing value alone".
type PhaseRecord struct {
	Status      PhaseStatus `json:"status,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Attempts    *int        `json:"attempts,omitempty"`
	DurationMS  *int64      `json:"duration_ms,omitempty"`

	InputURI  string `json:"input_uri,omitempty"`
	OutputURI string `json:"output_uri,omitempty"`

	// OCR confidence stats.
	AvgConfidence *float64 `json:"avg_confidence,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	MaxConfidence *float64 `json:"max_confidence,omitempty"`
	BlockCount    *int     `json:"block_count,omitempty"`

	// Model and prompt metadata for AI phases.
	ModelName     string `json:"model_name,omitempty"`
	PromptKey     string `json:"prompt_key,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
	SchemaName    string `json:"schema_name,omitempty"`

	// Free-form progress and error messages, append-only.
	Messages []string `json:"messages,omitempty"`

	// Artifacts grouped by type, e.g. "json" -> [...]. Append-only per type.
	Artifacts map[string][]Artifact `json:"artifacts,omitempty"`
}

// DocumentRecord is the document-level ledger entry holding the overall
// status and all phase summaries.
type DocumentRecord struct {
	ID             string                 `json:"id"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	OverallStatus  DocumentStatus         `json:"overall_status"`
	FinalOutputKey string                 `json:"final_output_key,omitempty"`
	FinalOutputURI string                 `json:"final_output_uri,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Phases         map[Phase]*PhaseRecord `json:"phases,omitempty"`
}

// PhaseFor returns the record for the given phase, or nil if none exists.
func (d *DocumentRecord) PhaseFor(p Phase) *PhaseRecord {
	if d == nil || d.Phases == nil {
		return nil
	}
	return d.Phases[p]
}
