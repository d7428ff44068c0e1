// Package store persists migration state: statuses, plans, validation
// reports, token usage, the audit trail, and committed import batches.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tablestack/posmigrate/internal/model"
)

// MigrationFilter specifies criteria for listing migrations.
type MigrationFilter struct {
	TenantID string               `json:"tenant_id,omitempty"`
	Phase    model.MigrationPhase `json:"phase,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
	Offset   int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the migration engine.
// AppendAuditEntry is intentionally the only write the audit trail
// gets: entries are never updated or deleted.
type Store interface {
	// Migrations
	CreateMigration(ctx context.Context, status model.MigrationStatus) error
	UpdateMigration(ctx context.Context, status model.MigrationStatus) error
	GetMigration(ctx context.Context, migrationID string) (*model.MigrationStatus, error)
	ListMigrations(ctx context.Context, filter MigrationFilter) ([]model.MigrationStatus, error)

	// Plans
	SavePlan(ctx context.Context, plan *model.MigrationPlan) error
	GetPlan(ctx context.Context, migrationID string) (*model.MigrationPlan, error)

	// Validation reports
	SaveValidationReport(ctx context.Context, report *model.ValidationReport) error
	ListValidationReports(ctx context.Context, migrationID string) ([]model.ValidationReport, error)

	// Token usage
	InsertTokenUsage(ctx context.Context, usage model.TokenUsage) error
	ListTokenUsage(ctx context.Context, tenantID string, period model.Period) ([]model.TokenUsage, error)

	// Audit trail
	AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error
	ListAuditEntries(ctx context.Context, migrationID string) ([]model.AuditLogEntry, error)

	// Import batches
	RecordBatch(ctx context.Context, batch model.BatchResult) error
	ListBatches(ctx context.Context, migrationID string) ([]model.BatchResult, error)
	MarkBatchRolledBack(ctx context.Context, migrationID string, batchIndex int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NotFoundError is returned when a requested record does not exist, so
// callers do not have to depend on driver error types.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: %s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
