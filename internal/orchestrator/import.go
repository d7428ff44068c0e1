package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/resilience"
)

// importProgressFloor and importProgressCeil bound the progress range
// the import phase owns.
const (
	importProgressFloor = 40.0
	importProgressCeil  = 90.0
)

// RunImport moves validation -> import and streams transformed batches
// into the sink. The validation gate is re-checked first: high-severity
// anomalies or consent violations return a GateError without touching
// the target.
//
// The import is restartable. Every committed batch is recorded before
// progress advances, so a re-invocation after a crash or pause skips
// batches already in the target. Records belonging to customers who
// withheld consent are excluded and logged, never imported.
func (o *Orchestrator) RunImport(ctx context.Context, migrationID string, customers []model.Customer) error {
	status, err := o.store.GetMigration(ctx, migrationID)
	if err != nil {
		return err
	}

	blocked, err := o.checkGate(ctx, migrationID, customers)
	if err != nil {
		return err
	}

	if status.Phase != model.PhaseImport {
		status, err = o.transition(ctx, migrationID, model.PhaseImport, "importing records")
		if err != nil {
			return err
		}
	}

	plan, err := o.store.GetPlan(ctx, migrationID)
	if err != nil {
		return o.failMigration(ctx, status, err)
	}
	mappings := plan.ActiveMappings()

	records, err := o.allRecords(ctx, status.POSType)
	if err != nil {
		return o.failMigration(ctx, status, err)
	}
	records = o.excludeBlocked(ctx, migrationID, records, blocked)

	done, err := o.committedBatches(ctx, migrationID)
	if err != nil {
		return o.failMigration(ctx, status, err)
	}

	batches := chunkBatches(records, o.opts.BatchSize)
	status.TotalItems = len(records)

	var (
		mu        sync.Mutex
		processed = countDone(batches, done)
		paused    bool
	)
	status.ItemsProcessed = processed

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for idx, batch := range batches {
		if done[idx] {
			continue
		}
		if o.isPaused(migrationID) {
			paused = true
			break
		}

		idx, batch := idx, batch
		g.Go(func() error {
			return o.commitBatch(gctx, status, idx, batch, mappings, &mu, &processed)
		})
	}

	if err := g.Wait(); err != nil {
		return o.failMigration(ctx, status, err)
	}

	if paused {
		status.CurrentOperation = "paused"
		o.updateStatus(ctx, status, status.ProgressPercent, "paused")
		return ErrPaused
	}

	status.ItemsProcessed = processed
	o.updateStatus(ctx, status, importProgressCeil, "import complete")
	return nil
}

// checkGate re-derives the hard gate from persisted reports and a fresh
// consent check, and returns the customer IDs whose records must stay
// out of the import.
func (o *Orchestrator) checkGate(ctx context.Context, migrationID string, customers []model.Customer) (map[string]bool, error) {
	reports, err := o.store.ListValidationReports(ctx, migrationID)
	if err != nil {
		return nil, err
	}

	var blockers []string
	for _, r := range reports {
		if r.Kind == "verification" {
			continue
		}
		for _, a := range r.Anomalies {
			if a.Severity == model.SeverityHigh {
				blockers = append(blockers, r.Kind+": "+a.Description)
			}
		}
	}

	compliance, err := o.auditor.VerifyConsent(ctx, migrationID, customers, o.opts.RequiredCategories)
	if err != nil {
		return nil, err
	}

	// Blocked customers gate their own records, not the whole import.
	// Only missing consent across the board is a hard stop.
	if len(compliance.BlockedCustomerIDs) == len(customers) && len(customers) > 0 {
		blockers = append(blockers, "consent: no customer has granted the required categories")
	}

	if len(blockers) > 0 {
		return nil, &GateError{MigrationID: migrationID, Blockers: blockers}
	}

	blocked := make(map[string]bool, len(compliance.BlockedCustomerIDs))
	for _, id := range compliance.BlockedCustomerIDs {
		blocked[id] = true
	}
	return blocked, nil
}

// excludeBlocked drops records tied to blocked customers, writing a
// record_excluded audit entry for each so the exclusion is provable.
func (o *Orchestrator) excludeBlocked(ctx context.Context, migrationID string, records []model.Record, blocked map[string]bool) []model.Record {
	if len(blocked) == 0 {
		return records
	}

	kept := records[:0]
	for _, rec := range records {
		customerID, _ := rec.Get("customer_id")
		id, _ := customerID.(string)
		if id == "" || !blocked[id] {
			kept = append(kept, rec)
			continue
		}
		o.audit(ctx, migrationID, model.AuditRecordExcluded, map[string]any{
			"record_id":   rec.ID(),
			"customer_id": id,
			"reason":      "consent not granted",
		})
	}
	return kept
}

// commitBatch transforms and commits one batch with retry, then records
// the outcome so rollback and resume know exactly what landed.
func (o *Orchestrator) commitBatch(ctx context.Context, status *model.MigrationStatus, idx int, batch []model.Record, mappings []model.FieldMapping, mu *sync.Mutex, processed *int) error {
	transformed := make([]model.Record, 0, len(batch))
	recordIDs := make([]string, 0, len(batch))
	for _, rec := range batch {
		out := transformRecord(rec, mappings)
		transformed = append(transformed, out)
		recordIDs = append(recordIDs, out.ID())
	}

	attempts := 0
	cfg := o.opts.Retry
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("orchestrator: batch commit retrying",
			zap.String("migration_id", status.MigrationID),
			zap.Int("batch_index", idx),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return o.sink.CommitBatch(ctx, status.MigrationID, transformed)
	})

	result := model.BatchResult{
		MigrationID: status.MigrationID,
		BatchIndex:  idx,
		RecordIDs:   recordIDs,
		Committed:   err == nil,
		Attempts:    attempts,
		CommittedAt: o.now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	if recordErr := o.store.RecordBatch(ctx, result); recordErr != nil {
		if err == nil {
			// A committed batch we cannot record would be invisible to
			// rollback. Treat it as a batch failure.
			return eris.Wrapf(recordErr, "orchestrator: record batch %d", idx)
		}
		zap.L().Error("orchestrator: record failed batch",
			zap.String("migration_id", status.MigrationID),
			zap.Int("batch_index", idx),
			zap.Error(recordErr),
		)
	}
	if err != nil {
		return eris.Wrapf(err, "orchestrator: commit batch %d", idx)
	}

	mu.Lock()
	*processed += len(batch)
	count := *processed
	mu.Unlock()

	progress := importProgressFloor
	if status.TotalItems > 0 {
		progress += (importProgressCeil - importProgressFloor) * float64(count) / float64(status.TotalItems)
	}
	o.bus.Publish(event(o.now, model.EventProgress, status.MigrationID, map[string]any{
		"progress_percent": progress,
		"items_processed":  count,
		"total_items":      status.TotalItems,
		"batch_index":      idx,
	}))
	return nil
}

// committedBatches returns the batch indexes already committed and not
// rolled back, so a resumed import skips them.
func (o *Orchestrator) committedBatches(ctx context.Context, migrationID string) (map[int]bool, error) {
	batches, err := o.store.ListBatches(ctx, migrationID)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(batches))
	for _, b := range batches {
		if b.Committed && !b.RolledBack {
			done[b.BatchIndex] = true
		}
	}
	return done, nil
}

func chunkBatches(records []model.Record, size int) [][]model.Record {
	var out [][]model.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}

func countDone(batches [][]model.Record, done map[int]bool) int {
	n := 0
	indexes := make([]int, 0, len(done))
	for idx := range done {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		if idx < len(batches) {
			n += len(batches[idx])
		}
	}
	return n
}
