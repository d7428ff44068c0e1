package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/audit"
	"github.com/tablestack/posmigrate/internal/coach"
	"github.com/tablestack/posmigrate/internal/consent"
	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/posadapter"
	"github.com/tablestack/posmigrate/internal/resilience"
	"github.com/tablestack/posmigrate/internal/store"
	"github.com/tablestack/posmigrate/internal/validator"
)

// ErrPaused is returned by RunImport when the migration was paused at a
// batch boundary. Resuming re-invokes RunImport, which skips already
// committed batches.
var ErrPaused = eris.New("orchestrator: migration paused")

// Options tunes the orchestrator.
type Options struct {
	// BatchSize is the number of records per import batch. Default: 100.
	BatchSize int
	// Workers bounds concurrent batch commits. Default: 4.
	Workers int
	// Retry controls per-batch retry behavior.
	Retry resilience.RetryConfig
	// TargetSchema is the canonical schema records are mapped onto.
	TargetSchema []model.SchemaField
	// RequiredCategories are the consent categories the migration needs.
	RequiredCategories []model.DataCategory
	// DuplicateKeyFields build the composite key for duplicate detection.
	DuplicateKeyFields []string
	// RetentionDays is the requested retention for migrated data.
	RetentionDays int
	// RetentionPolicies cap retention per category.
	RetentionPolicies []model.RetentionPolicy
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	if len(o.DuplicateKeyFields) == 0 {
		o.DuplicateKeyFields = []string{"name", "category_id"}
	}
	if len(o.RequiredCategories) == 0 {
		o.RequiredCategories = []model.DataCategory{model.CategoryContact, model.CategoryOrderHistory}
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 365
	}
	return o
}

// Override is a human correction to one mapping in the plan.
type Override struct {
	MappingID   string
	SourceField string
	TargetField string
	Transform   model.TransformKind
	UserID      string
}

// Orchestrator sequences the migration phases. It exclusively owns
// MigrationStatus: every mutation goes through it.
type Orchestrator struct {
	store     store.Store
	adapter   posadapter.Adapter
	coach     *coach.Coach
	validator *validator.Validator
	auditor   *audit.Auditor
	trail     *audit.Trail
	comm      consent.Communicator
	sink      Sink
	opts      Options
	bus       *eventBus
	leases    *leaseRegistry
	now       func() time.Time

	mu     sync.Mutex
	paused map[string]bool
}

// New creates an Orchestrator. comm may be nil when the tenant has no
// notification webhook configured.
func New(st store.Store, adapter posadapter.Adapter, c *coach.Coach, v *validator.Validator, trail *audit.Trail, comm consent.Communicator, sink Sink, opts Options) *Orchestrator {
	return &Orchestrator{
		store:     st,
		adapter:   adapter,
		coach:     c,
		validator: v,
		auditor:   audit.NewAuditor(trail),
		trail:     trail,
		comm:      comm,
		sink:      sink,
		opts:      opts.withDefaults(),
		bus:       newEventBus(),
		leases:    newLeaseRegistry(),
		now:       time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Subscribe returns the progress event stream for one migration.
func (o *Orchestrator) Subscribe(migrationID string) (<-chan model.MigrationProgressEvent, func()) {
	return o.bus.Subscribe(migrationID)
}

// Status returns a copy of the migration's current status.
func (o *Orchestrator) Status(ctx context.Context, migrationID string) (*model.MigrationStatus, error) {
	return o.store.GetMigration(ctx, migrationID)
}

// StartMigration creates a migration in the setup phase and leases its
// POS connection.
func (o *Orchestrator) StartMigration(ctx context.Context, tenantID, connectionID, posType string) (*model.MigrationStatus, error) {
	migrationID := uuid.New().String()

	if err := o.leases.Acquire(connectionID, migrationID); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	status := model.MigrationStatus{
		MigrationID:  migrationID,
		TenantID:     tenantID,
		ConnectionID: connectionID,
		POSType:      posType,
		Phase:        model.PhaseSetup,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.CreateMigration(ctx, status); err != nil {
		o.leases.Release(connectionID, migrationID)
		return nil, err
	}

	zap.L().Info("orchestrator: migration started",
		zap.String("migration_id", migrationID),
		zap.String("tenant_id", tenantID),
		zap.String("pos_type", posType),
	)
	o.bus.Publish(event(o.now, model.EventPhaseChange, migrationID, map[string]any{
		"phase": string(model.PhaseSetup),
	}))
	return &status, nil
}

// RunAnalysis moves setup -> analysis and produces the migration plan.
func (o *Orchestrator) RunAnalysis(ctx context.Context, migrationID string) (*model.MigrationPlan, error) {
	status, err := o.transition(ctx, migrationID, model.PhaseAnalysis, "analyzing source structure")
	if err != nil {
		return nil, err
	}

	sample, err := o.adapter.Sample(ctx, status.POSType)
	if err != nil {
		return nil, o.failMigration(ctx, status, eris.Wrap(err, "orchestrator: sample export"))
	}
	stats, err := o.adapter.Stats(ctx, status.POSType)
	if err != nil {
		return nil, o.failMigration(ctx, status, eris.Wrap(err, "orchestrator: export stats"))
	}

	plan, err := o.coach.AnalyzeStructure(ctx, coach.AnalyzeInput{
		MigrationID:  migrationID,
		TenantID:     status.TenantID,
		POSType:      status.POSType,
		Sample:       sample,
		Stats:        stats,
		TargetSchema: o.opts.TargetSchema,
	})
	if err != nil {
		return nil, o.failMigration(ctx, status, eris.Wrap(err, "orchestrator: analyze structure"))
	}

	if err := o.store.SavePlan(ctx, plan); err != nil {
		return nil, o.failMigration(ctx, status, err)
	}
	o.audit(ctx, migrationID, model.AuditPlanGenerated, map[string]any{
		"plan_id":          plan.ID,
		"complexity":       string(plan.Complexity),
		"estimated_hours":  plan.EstimatedHours,
		"confidence_score": plan.ConfidenceScore,
	})

	status.TotalItems = stats.Items
	o.updateStatus(ctx, status, 10, "plan generated")
	return plan, nil
}

// RejectSample loops analysis back to setup when the operator judges
// the sample unrepresentative.
func (o *Orchestrator) RejectSample(ctx context.Context, migrationID, reason string) error {
	status, err := o.transition(ctx, migrationID, model.PhaseSetup, "sample rejected")
	if err != nil {
		return err
	}
	status.Warnings = append(status.Warnings, "sample rejected: "+reason)
	o.updateStatus(ctx, status, 0, "awaiting new sample")
	return nil
}

// FinalizeMapping applies any human overrides and moves analysis ->
// mapping. An override supersedes the old mapping with a new version
// rather than editing it, and lands in the audit trail.
func (o *Orchestrator) FinalizeMapping(ctx context.Context, migrationID string, overrides []Override) error {
	status, err := o.transition(ctx, migrationID, model.PhaseMapping, "finalizing field mappings")
	if err != nil {
		return err
	}

	plan, err := o.store.GetPlan(ctx, migrationID)
	if err != nil {
		return o.failMigration(ctx, status, err)
	}

	for _, ov := range overrides {
		if err := o.applyOverride(ctx, migrationID, plan, ov); err != nil {
			return o.failMigration(ctx, status, err)
		}
	}

	if len(overrides) > 0 {
		if err := o.store.SavePlan(ctx, plan); err != nil {
			return o.failMigration(ctx, status, err)
		}
	}

	o.updateStatus(ctx, status, 25, "mappings finalized")
	return nil
}

func (o *Orchestrator) applyOverride(ctx context.Context, migrationID string, plan *model.MigrationPlan, ov Override) error {
	var prev *model.FieldMapping
	for i := range plan.FieldMappings {
		if plan.FieldMappings[i].ID == ov.MappingID && plan.FieldMappings[i].SupersededBy == "" {
			prev = &plan.FieldMappings[i]
			break
		}
	}
	if prev == nil {
		return eris.Errorf("orchestrator: mapping %s not found or already superseded", ov.MappingID)
	}

	next := model.FieldMapping{
		ID:          uuid.New().String(),
		SourceField: ov.SourceField,
		TargetField: ov.TargetField,
		Confidence:  1.0,
		Transform:   ov.Transform,
		Source:      model.MappingSourceHuman,
		Version:     prev.Version + 1,
	}
	if next.SourceField == "" {
		next.SourceField = prev.SourceField
	}
	if next.TargetField == "" {
		next.TargetField = prev.TargetField
	}
	if next.Transform == "" {
		next.Transform = prev.Transform
	}

	prev.SupersededBy = next.ID
	plan.FieldMappings = append(plan.FieldMappings, next)

	_, err := o.trail.RecordOverride(ctx, migrationID, ov.UserID, *prev, next)
	return err
}

// RunValidation moves mapping -> validation, runs the validator passes
// and the consent check, and persists every report. The returned
// blockers are what the import gate will enforce.
func (o *Orchestrator) RunValidation(ctx context.Context, migrationID string, customers []model.Customer) ([]string, error) {
	status, err := o.transition(ctx, migrationID, model.PhaseValidation, "validating mapped data")
	if err != nil {
		return nil, err
	}

	items, err := o.allRecords(ctx, status.POSType)
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}

	pricing, err := o.validator.ValidatePricing(ctx, migrationID, status.TenantID, items, status.POSType)
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}
	completeness, err := o.validator.CheckCompleteness(migrationID, items, o.requiredSourceFields(ctx, migrationID))
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}
	duplicates := o.validator.ValidateDuplicates(migrationID, items, o.opts.DuplicateKeyFields)

	for _, report := range []*model.ValidationReport{pricing, completeness, duplicates} {
		if err := o.store.SaveValidationReport(ctx, report); err != nil {
			return nil, o.failMigration(ctx, status, err)
		}
	}

	compliance, err := o.auditor.VerifyConsent(ctx, migrationID, customers, o.opts.RequiredCategories)
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}
	retention, err := o.auditor.CheckRetentionCompliance(ctx, migrationID, o.opts.RequiredCategories, o.opts.RetentionDays, o.opts.RetentionPolicies)
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}

	o.requestMissingConsent(ctx, migrationID, customers, compliance)

	blockers := collectBlockers([]*model.ValidationReport{pricing, completeness, duplicates}, compliance, retention)
	status.Warnings = append(status.Warnings, blockers...)
	o.updateStatus(ctx, status, 40, "validation complete")

	if len(blockers) > 0 {
		o.bus.Publish(event(o.now, model.EventWarning, migrationID, map[string]any{
			"blockers": blockers,
		}))
	}
	return blockers, nil
}

// requestMissingConsent asks customers with missing or expired consent
// to grant it. Denied customers are not re-asked. Delivery failures are
// logged, not fatal: the gate still blocks until consent arrives.
func (o *Orchestrator) requestMissingConsent(ctx context.Context, migrationID string, customers []model.Customer, compliance *model.ComplianceReport) {
	if o.comm == nil {
		return
	}
	byID := make(map[string]model.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}
	asked := make(map[string]bool)
	for _, v := range compliance.Violations {
		if v.Reason == "denied" || asked[v.CustomerID] {
			continue
		}
		asked[v.CustomerID] = true
		c, ok := byID[v.CustomerID]
		if !ok {
			continue
		}
		token, err := o.comm.SendConsentRequest(ctx, c, model.ConsentRequest{
			DataCategories: o.opts.RequiredCategories,
			Purpose:        "migrate point-of-sale data to the new platform",
			RetentionDays:  o.opts.RetentionDays,
			ExpiresAt:      o.now().UTC().Add(30 * 24 * time.Hour),
		})
		if err != nil {
			zap.L().Warn("orchestrator: consent request failed",
				zap.String("migration_id", migrationID),
				zap.String("customer_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		o.audit(ctx, migrationID, model.AuditConsentCheck, map[string]any{
			"customer_id":   c.ID,
			"consent_token": token,
			"action":        "consent_requested",
		})
	}
}

// collectBlockers enumerates every condition the import gate enforces.
func collectBlockers(reports []*model.ValidationReport, compliance, retention *model.ComplianceReport) []string {
	var blockers []string
	for _, r := range reports {
		for _, a := range r.Anomalies {
			if a.Severity == model.SeverityHigh {
				blockers = append(blockers, r.Kind+": "+a.Description)
			}
		}
	}
	for _, v := range compliance.Violations {
		blockers = append(blockers, "consent: customer "+v.CustomerID+" "+v.Reason+" for "+string(v.Category))
	}
	for _, v := range retention.Violations {
		blockers = append(blockers, "retention: "+string(v.Category)+" "+v.Reason)
	}
	return blockers
}

// Pause asks the importer to stop at the next batch boundary.
func (o *Orchestrator) Pause(migrationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused == nil {
		o.paused = make(map[string]bool)
	}
	o.paused[migrationID] = true
}

// Resume clears the pause flag. The caller re-invokes RunImport.
func (o *Orchestrator) Resume(migrationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.paused, migrationID)
}

func (o *Orchestrator) isPaused(migrationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused[migrationID]
}

// RunVerification moves import -> verification and re-runs lightweight
// validation on the transformed output to catch transformation bugs.
func (o *Orchestrator) RunVerification(ctx context.Context, migrationID string) (*model.ValidationReport, error) {
	status, err := o.transition(ctx, migrationID, model.PhaseVerification, "verifying transformed output")
	if err != nil {
		return nil, err
	}

	transformed, err := o.transformedRecords(ctx, migrationID, status.POSType)
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}

	report, err := o.validator.ValidatePricing(ctx, migrationID, status.TenantID, transformed, status.POSType)
	if err != nil {
		return nil, o.failMigration(ctx, status, err)
	}
	report.Kind = "verification"
	if err := o.store.SaveValidationReport(ctx, report); err != nil {
		return nil, o.failMigration(ctx, status, err)
	}

	o.updateStatus(ctx, status, 95, "verification complete")
	return report, nil
}

// Complete finalizes the migration: audit trail, cost report, progress
// 100, lease release, and customer summaries.
func (o *Orchestrator) Complete(ctx context.Context, migrationID string, customers []model.Customer) error {
	status, err := o.transition(ctx, migrationID, model.PhaseCompletion, "finalizing")
	if err != nil {
		return err
	}

	o.audit(ctx, migrationID, model.AuditPhaseChange, map[string]any{
		"phase":           string(model.PhaseCompletion),
		"items_processed": status.ItemsProcessed,
	})

	if o.comm != nil {
		summary := consent.MigrationSummary{
			MigrationID:    migrationID,
			ItemsMigrated:  status.ItemsProcessed,
			DataCategories: o.opts.RequiredCategories,
			CompletedAt:    o.now().UTC(),
		}
		for _, c := range customers {
			if err := o.comm.SendMigrationSummary(ctx, c, summary); err != nil {
				zap.L().Warn("orchestrator: send migration summary failed",
					zap.String("migration_id", migrationID),
					zap.String("customer_id", c.ID),
					zap.Error(err),
				)
			}
		}
	}

	status.ProgressPercent = 100
	status.CurrentOperation = ""
	o.updateStatus(ctx, status, 100, "")
	o.leases.Release(status.ConnectionID, migrationID)

	o.bus.Publish(event(o.now, model.EventCompletion, migrationID, map[string]any{
		"items_processed": status.ItemsProcessed,
	}))
	return nil
}

// transition validates and applies a phase change, persisting the new
// status and emitting a phase_change event.
func (o *Orchestrator) transition(ctx context.Context, migrationID string, to model.MigrationPhase, operation string) (*model.MigrationStatus, error) {
	status, err := o.store.GetMigration(ctx, migrationID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(status.Phase, to) {
		return nil, &TransitionError{MigrationID: migrationID, From: status.Phase, To: to}
	}

	from := status.Phase
	status.Phase = to
	status.CurrentOperation = operation
	status.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateMigration(ctx, *status); err != nil {
		return nil, err
	}

	o.audit(ctx, migrationID, model.AuditPhaseChange, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	o.bus.Publish(event(o.now, model.EventPhaseChange, migrationID, map[string]any{
		"from": string(from),
		"to":   string(to),
	}))
	return status, nil
}

// updateStatus persists the working status copy with new progress.
func (o *Orchestrator) updateStatus(ctx context.Context, status *model.MigrationStatus, progress float64, operation string) {
	if progress > status.ProgressPercent {
		status.ProgressPercent = progress
	}
	if operation != "" {
		status.CurrentOperation = operation
	}
	status.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateMigration(ctx, *status); err != nil {
		zap.L().Error("orchestrator: persist status failed",
			zap.String("migration_id", status.MigrationID),
			zap.Error(err),
		)
	}
	o.bus.Publish(event(o.now, model.EventProgress, status.MigrationID, map[string]any{
		"progress_percent": status.ProgressPercent,
		"items_processed":  status.ItemsProcessed,
		"total_items":      status.TotalItems,
	}))
}

// failMigration records a fatal error on the status and emits an error
// event. The phase is left unchanged so the operator can inspect and
// roll back.
func (o *Orchestrator) failMigration(ctx context.Context, status *model.MigrationStatus, err error) error {
	status.Errors = append(status.Errors, err.Error())
	status.UpdatedAt = o.now().UTC()
	if updateErr := o.store.UpdateMigration(ctx, *status); updateErr != nil {
		zap.L().Error("orchestrator: persist failure failed",
			zap.String("migration_id", status.MigrationID),
			zap.Error(updateErr),
		)
	}
	o.bus.Publish(event(o.now, model.EventError, status.MigrationID, map[string]any{
		"error": err.Error(),
	}))
	return err
}

func (o *Orchestrator) audit(ctx context.Context, migrationID string, op model.AuditOperation, details map[string]any) {
	if o.trail == nil {
		return
	}
	if _, err := o.trail.Append(ctx, model.AuditLogEntry{
		MigrationID: migrationID,
		Operation:   op,
		AgentName:   "orchestrator",
		Details:     details,
	}); err != nil {
		zap.L().Error("orchestrator: audit append failed",
			zap.String("migration_id", migrationID),
			zap.Error(err),
		)
	}
}

// allRecords drains the adapter's pages into memory. Exports are
// bounded by vendor limits, far below what a migration host holds.
func (o *Orchestrator) allRecords(ctx context.Context, posType string) ([]model.Record, error) {
	var out []model.Record
	cursor := ""
	for {
		page, err := o.adapter.Records(ctx, posType, cursor)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: read export")
		}
		out = append(out, page.Records...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// transformedRecords rebuilds the transformed view of all committed
// records for verification.
func (o *Orchestrator) transformedRecords(ctx context.Context, migrationID, posType string) ([]model.Record, error) {
	plan, err := o.store.GetPlan(ctx, migrationID)
	if err != nil {
		return nil, err
	}
	items, err := o.allRecords(ctx, posType)
	if err != nil {
		return nil, err
	}

	mappings := plan.ActiveMappings()
	out := make([]model.Record, 0, len(items))
	for _, rec := range items {
		out = append(out, transformRecord(rec, mappings))
	}
	return out, nil
}

// requiredSourceFields lists the source fields that feed required
// target fields, so completeness is checked where the data actually
// lives. Without a plan it falls back to the required target names.
func (o *Orchestrator) requiredSourceFields(ctx context.Context, migrationID string) []string {
	var mappings []model.FieldMapping
	if plan, err := o.store.GetPlan(ctx, migrationID); err == nil {
		mappings = plan.ActiveMappings()
	}

	bySource := make(map[string]string, len(mappings))
	for _, m := range mappings {
		bySource[m.TargetField] = m.SourceField
	}
	var out []string
	for _, f := range o.opts.TargetSchema {
		if !f.Required {
			continue
		}
		if src, ok := bySource[f.Name]; ok {
			out = append(out, src)
		} else {
			out = append(out, f.Name)
		}
	}
	return out
}
