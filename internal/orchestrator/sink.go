package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/db"
	"github.com/tablestack/posmigrate/internal/model"
)

// Sink is where transformed records land. CommitBatch must be
// idempotent per record ID: a batch replayed after a retry must not
// duplicate items. DeleteRecords reverses a committed batch during
// rollback.
type Sink interface {
	CommitBatch(ctx context.Context, migrationID string, records []model.Record) error
	DeleteRecords(ctx context.Context, migrationID string, recordIDs []string) error
}

// MemorySink holds committed records in memory for tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	records map[string]map[string]model.Record // migrationID -> recordID -> record
	fail    error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]map[string]model.Record)}
}

// FailWith makes subsequent commits return err. Passing nil clears it.
func (s *MemorySink) FailWith(err error) *MemorySink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
	return s
}

func (s *MemorySink) CommitBatch(_ context.Context, migrationID string, records []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.records[migrationID] == nil {
		s.records[migrationID] = make(map[string]model.Record)
	}
	for _, rec := range records {
		s.records[migrationID][rec.ID()] = rec
	}
	return nil
}

func (s *MemorySink) DeleteRecords(_ context.Context, migrationID string, recordIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range recordIDs {
		delete(s.records[migrationID], id)
	}
	return nil
}

// Committed returns a copy of the records committed for a migration.
func (s *MemorySink) Committed(migrationID string) []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Record, 0, len(s.records[migrationID]))
	for _, rec := range s.records[migrationID] {
		out = append(out, rec)
	}
	return out
}

// PostgresSink lands transformed records in the target_items table via
// bulk upsert, keyed on (migration_id, record id) so replays are safe.
type PostgresSink struct {
	pool db.Pool
}

// NewPostgresSink creates a PostgresSink on the given pool.
func NewPostgresSink(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// EnsureSchema creates the target_items table.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS target_items (
	migration_id TEXT NOT NULL,
	record_id    TEXT NOT NULL,
	data         JSONB NOT NULL,
	imported_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (migration_id, record_id)
)`)
	return eris.Wrap(err, "sink: ensure schema")
}

func (s *PostgresSink) CommitBatch(ctx context.Context, migrationID string, records []model.Record) error {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		blob, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "sink: marshal record")
		}
		rows = append(rows, []any{migrationID, rec.ID(), blob})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "target_items",
		Columns:      []string{"migration_id", "record_id", "data"},
		ConflictKeys: []string{"migration_id", "record_id"},
	}, rows)
	return err
}

func (s *PostgresSink) DeleteRecords(ctx context.Context, migrationID string, recordIDs []string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM target_items WHERE migration_id = $1 AND record_id = ANY($2)`,
		migrationID, recordIDs,
	)
	return eris.Wrapf(err, "sink: delete records for %s", migrationID)
}
