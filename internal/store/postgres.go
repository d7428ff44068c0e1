package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/db"
	"github.com/tablestack/posmigrate/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new
// connection: status updates and token-usage inserts fire on every
// batch and every AI call respectively.
var preparedStatements = map[string]string{
	"update_migration":   `UPDATE migrations SET phase = $1, status = $2, updated_at = $3 WHERE migration_id = $4`,
	"get_migration":      `SELECT status FROM migrations WHERE migration_id = $1`,
	"insert_token_usage": `INSERT INTO token_usage (id, migration_id, tenant_id, operation, model, input_tokens, output_tokens, total_tokens, cost_usd, ts) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"append_audit":       `INSERT INTO audit_log (id, migration_id, operation, entry, ts) VALUES ($1, $2, $3, $4, $5)`,
	"record_batch":       `INSERT INTO batches (migration_id, batch_index, result, rolled_back) VALUES ($1, $2, $3, $4) ON CONFLICT (migration_id, batch_index) DO UPDATE SET result = EXCLUDED.result, rolled_back = EXCLUDED.rolled_back`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool returns the underlying database pool for subsystems needing
// direct access (the bulk import path).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS migrations (
	migration_id TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plans (
	id           TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL REFERENCES migrations(migration_id),
	plan         JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_reports (
	id           TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL REFERENCES migrations(migration_id),
	kind         TEXT NOT NULL,
	report       JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS token_usage (
	id            TEXT PRIMARY KEY,
	migration_id  TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	operation     TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	total_tokens  BIGINT NOT NULL,
	cost_usd      DOUBLE PRECISION NOT NULL,
	ts            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL,
	operation    TEXT NOT NULL,
	entry        JSONB NOT NULL,
	ts           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	migration_id TEXT NOT NULL,
	batch_index  INTEGER NOT NULL,
	result       JSONB NOT NULL,
	rolled_back  BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (migration_id, batch_index)
);

CREATE INDEX IF NOT EXISTS idx_migrations_tenant ON migrations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_migrations_phase ON migrations(phase);
CREATE INDEX IF NOT EXISTS idx_plans_migration ON plans(migration_id);
CREATE INDEX IF NOT EXISTS idx_reports_migration ON validation_reports(migration_id);
CREATE INDEX IF NOT EXISTS idx_usage_tenant_ts ON token_usage(tenant_id, ts);
CREATE INDEX IF NOT EXISTS idx_audit_migration_ts ON audit_log(migration_id, ts);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateMigration(ctx context.Context, status model.MigrationStatus) error {
	blob, err := json.Marshal(status)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal status")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO migrations (migration_id, tenant_id, phase, status, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		status.MigrationID, status.TenantID, string(status.Phase), blob, status.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert migration %s", status.MigrationID)
}

func (s *PostgresStore) UpdateMigration(ctx context.Context, status model.MigrationStatus) error {
	blob, err := json.Marshal(status)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal status")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE migrations SET phase = $1, status = $2, updated_at = $3 WHERE migration_id = $4`,
		string(status.Phase), blob, status.UpdatedAt.UTC(), status.MigrationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update migration %s", status.MigrationID)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "migration", ID: status.MigrationID}
	}
	return nil
}

func (s *PostgresStore) GetMigration(ctx context.Context, migrationID string) (*model.MigrationStatus, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM migrations WHERE migration_id = $1`, migrationID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "migration", ID: migrationID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get migration %s", migrationID)
	}

	var status model.MigrationStatus
	if err := json.Unmarshal(blob, &status); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal status")
	}
	return &status, nil
}

func (s *PostgresStore) ListMigrations(ctx context.Context, filter MigrationFilter) ([]model.MigrationStatus, error) {
	query := `SELECT status FROM migrations WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR phase = $2) ORDER BY updated_at DESC LIMIT $3 OFFSET $4`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, filter.TenantID, string(filter.Phase), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list migrations")
	}
	defer rows.Close()

	var out []model.MigrationStatus
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration")
		}
		var status model.MigrationStatus
		if err := json.Unmarshal(blob, &status); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal status")
		}
		out = append(out, status)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list migrations")
}

func (s *PostgresStore) SavePlan(ctx context.Context, plan *model.MigrationPlan) error {
	blob, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, migration_id, plan, generated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET plan = EXCLUDED.plan`,
		plan.ID, plan.MigrationID, blob, plan.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save plan %s", plan.ID)
}

func (s *PostgresStore) GetPlan(ctx context.Context, migrationID string) (*model.MigrationPlan, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT plan FROM plans WHERE migration_id = $1 ORDER BY generated_at DESC LIMIT 1`,
		migrationID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "plan", ID: migrationID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan for %s", migrationID)
	}

	var plan model.MigrationPlan
	if err := json.Unmarshal(blob, &plan); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal plan")
	}
	return &plan, nil
}

func (s *PostgresStore) SaveValidationReport(ctx context.Context, report *model.ValidationReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_reports (id, migration_id, kind, report, generated_at) VALUES ($1, $2, $3, $4, $5)`,
		report.ID, report.MigrationID, report.Kind, blob, report.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save report %s", report.ID)
}

func (s *PostgresStore) ListValidationReports(ctx context.Context, migrationID string) ([]model.ValidationReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM validation_reports WHERE migration_id = $1 ORDER BY generated_at`,
		migrationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.ValidationReport
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		var report model.ValidationReport
		if err := json.Unmarshal(blob, &report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
		out = append(out, report)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports")
}

func (s *PostgresStore) InsertTokenUsage(ctx context.Context, usage model.TokenUsage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_usage (id, migration_id, tenant_id, operation, model, input_tokens, output_tokens, total_tokens, cost_usd, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		usage.ID, usage.MigrationID, usage.TenantID, string(usage.Operation), usage.Model,
		usage.InputTokens, usage.OutputTokens, usage.TotalTokens, usage.CostUSD, usage.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert token usage %s", usage.ID)
}

func (s *PostgresStore) ListTokenUsage(ctx context.Context, tenantID string, period model.Period) ([]model.TokenUsage, error) {
	// Zero bounds are open-ended; infinity keeps this a single prepared
	// statement shape.
	from := period.From.UTC()
	if period.From.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := period.To.UTC()
	if period.To.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, migration_id, tenant_id, operation, model, input_tokens, output_tokens, total_tokens, cost_usd, ts
		 FROM token_usage WHERE tenant_id = $1 AND ts >= $2 AND ts < $3 ORDER BY ts`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list token usage")
	}
	defer rows.Close()

	var out []model.TokenUsage
	for rows.Next() {
		var u model.TokenUsage
		var op string
		if err := rows.Scan(&u.ID, &u.MigrationID, &u.TenantID, &op, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.TotalTokens, &u.CostUSD, &u.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan token usage")
		}
		u.Operation = model.OperationType(op)
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list token usage")
}

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, entry model.AuditLogEntry) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit entry")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, migration_id, operation, entry, ts) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.MigrationID, string(entry.Operation), blob, entry.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: append audit entry %s", entry.ID)
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, migrationID string) ([]model.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry FROM audit_log WHERE migration_id = $1 ORDER BY ts, id`,
		migrationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit entries")
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		var entry model.AuditLogEntry
		if err := json.Unmarshal(blob, &entry); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit entry")
		}
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit entries")
}

func (s *PostgresStore) RecordBatch(ctx context.Context, batch model.BatchResult) error {
	blob, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (migration_id, batch_index, result, rolled_back) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (migration_id, batch_index) DO UPDATE SET result = EXCLUDED.result, rolled_back = EXCLUDED.rolled_back`,
		batch.MigrationID, batch.BatchIndex, blob, batch.RolledBack,
	)
	return eris.Wrapf(err, "postgres: record batch %d for %s", batch.BatchIndex, batch.MigrationID)
}

func (s *PostgresStore) ListBatches(ctx context.Context, migrationID string) ([]model.BatchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM batches WHERE migration_id = $1 ORDER BY batch_index`,
		migrationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.BatchResult
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		var batch model.BatchResult
		if err := json.Unmarshal(blob, &batch); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch")
		}
		out = append(out, batch)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches")
}

func (s *PostgresStore) MarkBatchRolledBack(ctx context.Context, migrationID string, batchIndex int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE batches
		 SET rolled_back = true,
		     result = jsonb_set(result, '{rolled_back}', 'true'::jsonb)
		 WHERE migration_id = $1 AND batch_index = $2`,
		migrationID, batchIndex,
	)
	return eris.Wrapf(err, "postgres: mark batch %d rolled back for %s", batchIndex, migrationID)
}
