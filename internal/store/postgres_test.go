package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestack/posmigrate/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgres_GetMigration_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status FROM migrations WHERE migration_id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetMigration(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMigration(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	status := model.MigrationStatus{
		MigrationID: "mig-1",
		TenantID:    "t-1",
		Phase:       model.PhaseImport,
	}
	blob, err := json.Marshal(status)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT status FROM migrations WHERE migration_id = \$1`).
		WithArgs("mig-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(blob))

	got, err := s.GetMigration(context.Background(), "mig-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseImport, got.Phase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateMigration_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE migrations SET phase = \$1, status = \$2, updated_at = \$3 WHERE migration_id = \$4`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateMigration(context.Background(), model.MigrationStatus{MigrationID: "ghost"})
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertTokenUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	usage := model.TokenUsage{
		ID:           "u-1",
		MigrationID:  "mig-1",
		TenantID:     "t-1",
		Operation:    model.OpSuggestMappings,
		Model:        "test-model",
		InputTokens:  500,
		OutputTokens: 300,
		TotalTokens:  800,
		CostUSD:      0.033,
		Timestamp:    time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO token_usage`).
		WithArgs(usage.ID, usage.MigrationID, usage.TenantID, string(usage.Operation), usage.Model,
			usage.InputTokens, usage.OutputTokens, usage.TotalTokens, usage.CostUSD, usage.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.InsertTokenUsage(context.Background(), usage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetPlan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT plan FROM plans WHERE migration_id = \$1`).
		WithArgs("mig-none").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPlan(context.Background(), "mig-none")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkBatchRolledBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE batches`).
		WithArgs("mig-1", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkBatchRolledBack(context.Background(), "mig-1", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListAuditEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entry := model.AuditLogEntry{
		ID:          "a-1",
		MigrationID: "mig-1",
		Operation:   model.AuditBatchCommit,
		Timestamp:   time.Now().UTC(),
	}
	blob, err := json.Marshal(entry)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT entry FROM audit_log WHERE migration_id = \$1`).
		WithArgs("mig-1").
		WillReturnRows(pgxmock.NewRows([]string{"entry"}).AddRow(blob))

	got, err := s.ListAuditEntries(context.Background(), "mig-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AuditBatchCommit, got[0].Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}
