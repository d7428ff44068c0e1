package model

import "time"

// MigrationPhase enumerates the orchestrator state machine.
type MigrationPhase string

const (
	PhaseSetup        MigrationPhase = "setup"
	PhaseAnalysis     MigrationPhase = "analysis"
	PhaseMapping      MigrationPhase = "mapping"
	PhaseValidation   MigrationPhase = "validation"
	PhaseImport       MigrationPhase = "import"
	PhaseVerification MigrationPhase = "verification"
	PhaseCompletion   MigrationPhase = "completion"
	PhaseRolledBack   MigrationPhase = "rolled_back"
)

// Terminal reports whether no further transitions are possible.
func (p MigrationPhase) Terminal() bool {
	return p == PhaseCompletion || p == PhaseRolledBack
}

// MigrationStatus is the orchestrator-owned view of one migration.
// Only the orchestrator mutates it; everyone else gets copies.
type MigrationStatus struct {
	MigrationID         string         `json:"migration_id"`
	TenantID            string         `json:"tenant_id"`
	ConnectionID        string         `json:"connection_id"`
	POSType             string         `json:"pos_type"`
	Phase               MigrationPhase `json:"phase"`
	ProgressPercent     float64        `json:"progress_percent"`
	ItemsProcessed      int            `json:"items_processed"`
	TotalItems          int            `json:"total_items"`
	Errors              []string       `json:"errors,omitempty"`
	Warnings            []string       `json:"warnings,omitempty"`
	StartedAt           time.Time      `json:"started_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	CurrentOperation    string         `json:"current_operation,omitempty"`
}

// ProgressEventType classifies progress stream events.
type ProgressEventType string

const (
	EventProgress    ProgressEventType = "progress"
	EventPhaseChange ProgressEventType = "phase_change"
	EventError       ProgressEventType = "error"
	EventWarning     ProgressEventType = "warning"
	EventCompletion  ProgressEventType = "completion"
)

// MigrationProgressEvent is pushed to subscribers on every transition and
// batch boundary.
type MigrationProgressEvent struct {
	Type        ProgressEventType `json:"type"`
	MigrationID string            `json:"migration_id"`
	Data        map[string]any    `json:"data,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// BatchResult records the outcome of one import batch, persisted so a
// rollback can reverse exactly what was committed.
type BatchResult struct {
	MigrationID string    `json:"migration_id"`
	BatchIndex  int       `json:"batch_index"`
	RecordIDs   []string  `json:"record_ids"`
	Committed   bool      `json:"committed"`
	RolledBack  bool      `json:"rolled_back"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}
