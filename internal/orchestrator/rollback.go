package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/model"
)

// Rollback reverses every committed batch and moves the migration to
// rolled_back. It is idempotent: batches already marked rolled back are
// skipped, and re-invoking after a partial rollback finishes the job.
// Batches are reversed newest first so a crash mid-rollback leaves the
// earliest (most depended-upon) data intact longest.
func (o *Orchestrator) Rollback(ctx context.Context, migrationID, reason string) error {
	status, err := o.store.GetMigration(ctx, migrationID)
	if err != nil {
		return err
	}
	if status.Phase != model.PhaseRolledBack && !CanTransition(status.Phase, model.PhaseRolledBack) {
		return &TransitionError{MigrationID: migrationID, From: status.Phase, To: model.PhaseRolledBack}
	}

	batches, err := o.store.ListBatches(ctx, migrationID)
	if err != nil {
		return err
	}

	reversed := 0
	for i := len(batches) - 1; i >= 0; i-- {
		b := batches[i]
		if !b.Committed || b.RolledBack {
			continue
		}
		if err := o.sink.DeleteRecords(ctx, migrationID, b.RecordIDs); err != nil {
			return eris.Wrapf(err, "orchestrator: reverse batch %d", b.BatchIndex)
		}
		if err := o.store.MarkBatchRolledBack(ctx, migrationID, b.BatchIndex); err != nil {
			return eris.Wrapf(err, "orchestrator: mark batch %d rolled back", b.BatchIndex)
		}
		o.audit(ctx, migrationID, model.AuditBatchRollback, map[string]any{
			"batch_index": b.BatchIndex,
			"records":     len(b.RecordIDs),
			"reason":      reason,
		})
		reversed++
	}

	if status.Phase != model.PhaseRolledBack {
		status.Phase = model.PhaseRolledBack
		status.CurrentOperation = ""
		status.Warnings = append(status.Warnings, "rolled back: "+reason)
		status.UpdatedAt = o.now().UTC()
		if err := o.store.UpdateMigration(ctx, *status); err != nil {
			return err
		}
		o.bus.Publish(event(o.now, model.EventPhaseChange, migrationID, map[string]any{
			"to":     string(model.PhaseRolledBack),
			"reason": reason,
		}))
	}

	o.leases.Release(status.ConnectionID, migrationID)

	zap.L().Info("orchestrator: rollback complete",
		zap.String("migration_id", migrationID),
		zap.Int("batches_reversed", reversed),
		zap.String("reason", reason),
	)
	return nil
}
