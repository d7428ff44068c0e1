// Package audit verifies consent for migrating personal data and keeps
// the append-only trail every migration decision is written to.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/model"
)

// TrailStore is the slice of persistence the trail needs. Entries are
// append-only; the store exposes no update or delete.
type TrailStore interface {
	AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error
	ListAuditEntries(ctx context.Context, migrationID string) ([]model.AuditLogEntry, error)
}

// Trail writes and renders the audit log for migrations.
type Trail struct {
	store TrailStore
	now   func() time.Time
}

// NewTrail creates a Trail backed by the given store.
func NewTrail(store TrailStore) *Trail {
	return &Trail{store: store, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (t *Trail) WithNow(now func() time.Time) *Trail {
	t.now = now
	return t
}

// Append writes one entry. The ID and timestamp are assigned here so
// callers cannot backdate or overwrite records.
func (t *Trail) Append(ctx context.Context, entry model.AuditLogEntry) (model.AuditLogEntry, error) {
	if entry.MigrationID == "" {
		return model.AuditLogEntry{}, eris.New("audit: entry missing migration id")
	}
	if entry.Operation == "" {
		return model.AuditLogEntry{}, eris.New("audit: entry missing operation")
	}
	entry.ID = uuid.New().String()
	entry.Timestamp = t.now().UTC()

	if err := t.store.AppendAuditEntry(ctx, entry); err != nil {
		return model.AuditLogEntry{}, eris.Wrap(err, "audit: append entry")
	}
	return entry, nil
}

// RecordOverride logs a human mapping override. The orchestrator pairs
// this with a new mapping version; the old one is superseded, never
// edited in place.
func (t *Trail) RecordOverride(ctx context.Context, migrationID, userID string, prev, next model.FieldMapping) (model.AuditLogEntry, error) {
	return t.Append(ctx, model.AuditLogEntry{
		MigrationID: migrationID,
		Operation:   model.AuditHumanOverride,
		UserID:      userID,
		Details: map[string]any{
			"previous_mapping_id": prev.ID,
			"new_mapping_id":      next.ID,
			"source_field":        next.SourceField,
			"target_field":        next.TargetField,
			"previous_target":     prev.TargetField,
		},
		ComplianceNotes: "field mapping overridden by operator",
	})
}

// GenerateAuditTrail renders the migration's full trail as a document.
// With includeDetails false, per-entry detail maps are omitted and only
// the operation timeline remains.
func (t *Trail) GenerateAuditTrail(ctx context.Context, migrationID string, includeDetails bool) (string, error) {
	entries, err := t.store.ListAuditEntries(ctx, migrationID)
	if err != nil {
		return "", eris.Wrap(err, "audit: list entries")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit trail for migration %s\n", migrationID)
	fmt.Fprintf(&b, "Generated at %s\n", t.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Entries: %d\n\n", len(entries))

	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s", e.Timestamp.UTC().Format(time.RFC3339), e.Operation)
		if e.UserID != "" {
			fmt.Fprintf(&b, " user=%s", e.UserID)
		}
		if e.AgentName != "" {
			fmt.Fprintf(&b, " agent=%s", e.AgentName)
		}
		if len(e.DataCategories) > 0 {
			cats := make([]string, len(e.DataCategories))
			for i, c := range e.DataCategories {
				cats[i] = string(c)
			}
			fmt.Fprintf(&b, " categories=%s", strings.Join(cats, ","))
		}
		b.WriteString("\n")
		if e.ComplianceNotes != "" {
			fmt.Fprintf(&b, "  note: %s\n", e.ComplianceNotes)
		}
		if includeDetails && len(e.Details) > 0 {
			detail, err := json.Marshal(e.Details)
			if err == nil {
				fmt.Fprintf(&b, "  details: %s\n", detail)
			}
		}
	}

	return b.String(), nil
}
