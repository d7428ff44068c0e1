package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestack/posmigrate/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testStatus(migrationID string) model.MigrationStatus {
	return model.MigrationStatus{
		MigrationID: migrationID,
		TenantID:    "t-1",
		POSType:     "square",
		Phase:       model.PhaseSetup,
		StartedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_MigrationLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	status := testStatus("mig-1")
	require.NoError(t, s.CreateMigration(ctx, status))

	got, err := s.GetMigration(ctx, "mig-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSetup, got.Phase)
	assert.Equal(t, "t-1", got.TenantID)

	status.Phase = model.PhaseAnalysis
	status.ProgressPercent = 15
	status.UpdatedAt = status.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.UpdateMigration(ctx, status))

	got, err = s.GetMigration(ctx, "mig-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAnalysis, got.Phase)
	assert.Equal(t, 15.0, got.ProgressPercent)
}

func TestSQLite_GetMigration_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetMigration(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLite_UpdateMigration_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	err := s.UpdateMigration(context.Background(), testStatus("ghost"))
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ListMigrations_Filtered(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := testStatus("mig-a")
	b := testStatus("mig-b")
	b.TenantID = "t-2"
	b.Phase = model.PhaseImport
	require.NoError(t, s.CreateMigration(ctx, a))
	require.NoError(t, s.CreateMigration(ctx, b))

	byTenant, err := s.ListMigrations(ctx, MigrationFilter{TenantID: "t-2"})
	require.NoError(t, err)
	require.Len(t, byTenant, 1)
	assert.Equal(t, "mig-b", byTenant[0].MigrationID)

	byPhase, err := s.ListMigrations(ctx, MigrationFilter{Phase: model.PhaseSetup})
	require.NoError(t, err)
	require.Len(t, byPhase, 1)
	assert.Equal(t, "mig-a", byPhase[0].MigrationID)
}

func TestSQLite_PlanRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMigration(ctx, testStatus("mig-1")))

	plan := &model.MigrationPlan{
		ID:          uuid.New().String(),
		MigrationID: "mig-1",
		POSType:     "square",
		Complexity:  model.ComplexityModerate,
		FieldMappings: []model.FieldMapping{
			{ID: "fm-1", SourceField: "itemName", TargetField: "name", Confidence: 0.8, Version: 1},
		},
		ConfidenceScore: 0.8,
		GeneratedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.SavePlan(ctx, plan))

	got, err := s.GetPlan(ctx, "mig-1")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	require.Len(t, got.FieldMappings, 1)
	assert.Equal(t, "itemName", got.FieldMappings[0].SourceField)
}

func TestSQLite_GetPlan_NotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetPlan(context.Background(), "mig-none")
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ValidationReports(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMigration(ctx, testStatus("mig-1")))

	report := &model.ValidationReport{
		ID:          uuid.New().String(),
		MigrationID: "mig-1",
		Kind:        "pricing",
		Anomalies: []model.ValidationAnomaly{
			{Type: model.AnomalyMissingPrice, Severity: model.SeverityHigh, AffectedItems: []string{"itm-1"}},
		},
		GeneratedAt: time.Now().UTC(),
	}
	report.Finalize()
	require.NoError(t, s.SaveValidationReport(ctx, report))

	got, err := s.ListValidationReports(ctx, "mig-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pricing", got[0].Kind)
	assert.Equal(t, 1, got[0].Summary.TotalIssues)
}

func TestSQLite_TokenUsagePeriodFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{base, base.AddDate(0, 1, 0), base.AddDate(0, 2, 0)} {
		usage := model.TokenUsage{
			ID:           uuid.New().String(),
			MigrationID:  "mig-1",
			TenantID:     "t-1",
			Operation:    model.OpSuggestMappings,
			Model:        "test-model",
			InputTokens:  int64(100 * (i + 1)),
			OutputTokens: 50,
			TotalTokens:  int64(100*(i+1)) + 50,
			CostUSD:      0.01,
			Timestamp:    ts,
		}
		require.NoError(t, s.InsertTokenUsage(ctx, usage))
	}

	got, err := s.ListTokenUsage(ctx, "t-1", model.Period{
		From: base.AddDate(0, 0, 15),
		To:   base.AddDate(0, 1, 15),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(200), got[0].InputTokens)

	all, err := s.ListTokenUsage(ctx, "t-1", model.Period{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.ListTokenUsage(ctx, "t-other", model.Period{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_AuditEntriesOrdered(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, op := range []model.AuditOperation{model.AuditPhaseChange, model.AuditConsentCheck, model.AuditBatchCommit} {
		entry := model.AuditLogEntry{
			ID:          uuid.New().String(),
			MigrationID: "mig-1",
			Operation:   op,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.AppendAuditEntry(ctx, entry))
	}

	got, err := s.ListAuditEntries(ctx, "mig-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, model.AuditPhaseChange, got[0].Operation)
	assert.Equal(t, model.AuditBatchCommit, got[2].Operation)
}

func TestSQLite_BatchRollbackCycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	batch := model.BatchResult{
		MigrationID: "mig-1",
		BatchIndex:  0,
		RecordIDs:   []string{"r-1", "r-2"},
		Committed:   true,
		Attempts:    1,
		CommittedAt: time.Now().UTC(),
	}
	require.NoError(t, s.RecordBatch(ctx, batch))

	require.NoError(t, s.MarkBatchRolledBack(ctx, "mig-1", 0))
	// marking twice must be harmless
	require.NoError(t, s.MarkBatchRolledBack(ctx, "mig-1", 0))

	got, err := s.ListBatches(ctx, "mig-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].RolledBack)
	assert.Equal(t, []string{"r-1", "r-2"}, got[0].RecordIDs)
}

func TestSQLite_RecordBatchUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	batch := model.BatchResult{MigrationID: "mig-1", BatchIndex: 2, Attempts: 1}
	require.NoError(t, s.RecordBatch(ctx, batch))
	batch.Attempts = 3
	batch.Committed = true
	require.NoError(t, s.RecordBatch(ctx, batch))

	got, err := s.ListBatches(ctx, "mig-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Attempts)
	assert.True(t, got[0].Committed)
}
