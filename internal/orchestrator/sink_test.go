package orchestrator

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestack/posmigrate/internal/model"
)

func TestMemorySinkCommitIsIdempotent(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	batch := []model.Record{
		{"id": "r1", "name": "Latte"},
		{"id": "r2", "name": "Mocha"},
	}
	require.NoError(t, sink.CommitBatch(ctx, "mig-1", batch))
	require.NoError(t, sink.CommitBatch(ctx, "mig-1", batch), "replay must not duplicate")
	assert.Len(t, sink.Committed("mig-1"), 2)

	require.NoError(t, sink.DeleteRecords(ctx, "mig-1", []string{"r1"}))
	assert.Len(t, sink.Committed("mig-1"), 1)
}

func TestPostgresSinkEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS target_items`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	sink := NewPostgresSink(mock)
	require.NoError(t, sink.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkDeleteRecords(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM target_items WHERE migration_id = \$1 AND record_id = ANY\(\$2\)`).
		WithArgs("mig-1", []string{"r1", "r2"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	sink := NewPostgresSink(mock)
	require.NoError(t, sink.DeleteRecords(context.Background(), "mig-1", []string{"r1", "r2"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
