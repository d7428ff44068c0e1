package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tablestack/posmigrate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs
// single-operator CLI runs; the server deploys on Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS migrations (
	migration_id TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plans (
	id           TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL REFERENCES migrations(migration_id),
	plan         TEXT NOT NULL,
	generated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_reports (
	id           TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL REFERENCES migrations(migration_id),
	kind         TEXT NOT NULL,
	report       TEXT NOT NULL,
	generated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS token_usage (
	id            TEXT PRIMARY KEY,
	migration_id  TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	operation     TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens  INTEGER NOT NULL,
	cost_usd      REAL NOT NULL,
	ts            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL,
	operation    TEXT NOT NULL,
	entry        TEXT NOT NULL,
	ts           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	migration_id TEXT NOT NULL,
	batch_index  INTEGER NOT NULL,
	result       TEXT NOT NULL,
	rolled_back  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (migration_id, batch_index)
);

CREATE INDEX IF NOT EXISTS idx_migrations_tenant ON migrations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_migrations_phase ON migrations(phase);
CREATE INDEX IF NOT EXISTS idx_plans_migration ON plans(migration_id);
CREATE INDEX IF NOT EXISTS idx_reports_migration ON validation_reports(migration_id);
CREATE INDEX IF NOT EXISTS idx_usage_tenant_ts ON token_usage(tenant_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_migration_ts ON audit_log(migration_id, ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateMigration(ctx context.Context, status model.MigrationStatus) error {
	blob, err := json.Marshal(status)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal status")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO migrations (migration_id, tenant_id, phase, status, updated_at) VALUES (?, ?, ?, ?, ?)`,
		status.MigrationID, status.TenantID, string(status.Phase), string(blob), status.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert migration %s", status.MigrationID)
}

func (s *SQLiteStore) UpdateMigration(ctx context.Context, status model.MigrationStatus) error {
	blob, err := json.Marshal(status)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal status")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE migrations SET phase = ?, status = ?, updated_at = ? WHERE migration_id = ?`,
		string(status.Phase), string(blob), status.UpdatedAt.UTC(), status.MigrationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update migration %s", status.MigrationID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &NotFoundError{Kind: "migration", ID: status.MigrationID}
	}
	return nil
}

func (s *SQLiteStore) GetMigration(ctx context.Context, migrationID string) (*model.MigrationStatus, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM migrations WHERE migration_id = ?`, migrationID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "migration", ID: migrationID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get migration %s", migrationID)
	}

	var status model.MigrationStatus
	if err := json.Unmarshal([]byte(blob), &status); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal status")
	}
	return &status, nil
}

func (s *SQLiteStore) ListMigrations(ctx context.Context, filter MigrationFilter) ([]model.MigrationStatus, error) {
	query := `SELECT status FROM migrations WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, string(filter.Phase))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list migrations")
	}
	defer rows.Close()

	var out []model.MigrationStatus
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan migration")
		}
		var status model.MigrationStatus
		if err := json.Unmarshal([]byte(blob), &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal status")
		}
		out = append(out, status)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list migrations")
}

func (s *SQLiteStore) SavePlan(ctx context.Context, plan *model.MigrationPlan) error {
	blob, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, migration_id, plan, generated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET plan = excluded.plan`,
		plan.ID, plan.MigrationID, string(blob), plan.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save plan %s", plan.ID)
}

func (s *SQLiteStore) GetPlan(ctx context.Context, migrationID string) (*model.MigrationPlan, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan FROM plans WHERE migration_id = ? ORDER BY generated_at DESC LIMIT 1`,
		migrationID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "plan", ID: migrationID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan for %s", migrationID)
	}

	var plan model.MigrationPlan
	if err := json.Unmarshal([]byte(blob), &plan); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal plan")
	}
	return &plan, nil
}

func (s *SQLiteStore) SaveValidationReport(ctx context.Context, report *model.ValidationReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_reports (id, migration_id, kind, report, generated_at) VALUES (?, ?, ?, ?, ?)`,
		report.ID, report.MigrationID, report.Kind, string(blob), report.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save report %s", report.ID)
}

func (s *SQLiteStore) ListValidationReports(ctx context.Context, migrationID string) ([]model.ValidationReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM validation_reports WHERE migration_id = ? ORDER BY generated_at`,
		migrationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []model.ValidationReport
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		var report model.ValidationReport
		if err := json.Unmarshal([]byte(blob), &report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
		out = append(out, report)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports")
}

func (s *SQLiteStore) InsertTokenUsage(ctx context.Context, usage model.TokenUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (id, migration_id, tenant_id, operation, model, input_tokens, output_tokens, total_tokens, cost_usd, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.MigrationID, usage.TenantID, string(usage.Operation), usage.Model,
		usage.InputTokens, usage.OutputTokens, usage.TotalTokens, usage.CostUSD, usage.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert token usage %s", usage.ID)
}

func (s *SQLiteStore) ListTokenUsage(ctx context.Context, tenantID string, period model.Period) ([]model.TokenUsage, error) {
	query := `SELECT id, migration_id, tenant_id, operation, model, input_tokens, output_tokens, total_tokens, cost_usd, ts
		FROM token_usage WHERE tenant_id = ?`
	args := []any{tenantID}
	if !period.From.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, period.From.UTC())
	}
	if !period.To.IsZero() {
		query += ` AND ts < ?`
		args = append(args, period.To.UTC())
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list token usage")
	}
	defer rows.Close()

	var out []model.TokenUsage
	for rows.Next() {
		var u model.TokenUsage
		var op string
		if err := rows.Scan(&u.ID, &u.MigrationID, &u.TenantID, &op, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.TotalTokens, &u.CostUSD, &u.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan token usage")
		}
		u.Operation = model.OperationType(op)
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list token usage")
}

func (s *SQLiteStore) AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit entry")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, migration_id, operation, entry, ts) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.MigrationID, string(entry.Operation), string(blob), entry.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append audit entry %s", entry.ID)
}

func (s *SQLiteStore) ListAuditEntries(ctx context.Context, migrationID string) ([]model.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM audit_log WHERE migration_id = ? ORDER BY ts, id`,
		migrationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit entries")
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		var entry model.AuditLogEntry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit entry")
		}
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit entries")
}

func (s *SQLiteStore) RecordBatch(ctx context.Context, batch model.BatchResult) error {
	blob, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (migration_id, batch_index, result, rolled_back) VALUES (?, ?, ?, ?)
		 ON CONFLICT(migration_id, batch_index) DO UPDATE SET result = excluded.result, rolled_back = excluded.rolled_back`,
		batch.MigrationID, batch.BatchIndex, string(blob), boolToInt(batch.RolledBack),
	)
	return eris.Wrapf(err, "sqlite: record batch %d for %s", batch.BatchIndex, batch.MigrationID)
}

func (s *SQLiteStore) ListBatches(ctx context.Context, migrationID string) ([]model.BatchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM batches WHERE migration_id = ? ORDER BY batch_index`,
		migrationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var out []model.BatchResult
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		var batch model.BatchResult
		if err := json.Unmarshal([]byte(blob), &batch); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch")
		}
		out = append(out, batch)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches")
}

func (s *SQLiteStore) MarkBatchRolledBack(ctx context.Context, migrationID string, batchIndex int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches
		 SET rolled_back = 1,
		     result = json_set(result, '$.rolled_back', json('true'))
		 WHERE migration_id = ? AND batch_index = ?`,
		migrationID, batchIndex,
	)
	return eris.Wrapf(err, "sqlite: mark batch %d rolled back for %s", batchIndex, migrationID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
