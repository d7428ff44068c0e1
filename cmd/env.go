package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/audit"
	"github.com/tablestack/posmigrate/internal/coach"
	"github.com/tablestack/posmigrate/internal/consent"
	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/orchestrator"
	"github.com/tablestack/posmigrate/internal/posadapter"
	"github.com/tablestack/posmigrate/internal/resilience"
	"github.com/tablestack/posmigrate/internal/rules"
	"github.com/tablestack/posmigrate/internal/store"
	"github.com/tablestack/posmigrate/internal/validator"
	"github.com/tablestack/posmigrate/pkg/aiprovider"
)

// defaultTargetSchema is the canonical item schema migrations map onto
// when no schema file is supplied.
var defaultTargetSchema = []model.SchemaField{
	{Name: "name", DataType: "string", Required: true},
	{Name: "price", DataType: "number", Required: true},
	{Name: "category", DataType: "string", Required: true},
	{Name: "sku", DataType: "string"},
	{Name: "description", DataType: "string"},
	{Name: "modifiers", DataType: "array"},
	{Name: "customer_id", DataType: "string"},
}

// env bundles the wired application for one command invocation.
type env struct {
	Store   store.Store
	Trail   *audit.Trail
	Tracker *cost.Tracker
	Orch    *orchestrator.Orchestrator
}

func (e *env) Close() {
	if e.Tracker != nil {
		e.Tracker.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv wires the store, coach, validator, adapter, and orchestrator
// from configuration. The AI provider is optional: without an API key
// the coach falls back to rule-based mapping.
func initEnv(ctx context.Context, schemaPath string) (*env, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	schema := defaultTargetSchema
	if schemaPath != "" {
		schema, err = loadSchema(schemaPath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	var provider aiprovider.Provider
	if cfg.Anthropic.Key != "" {
		provider = aiprovider.NewAnthropic(cfg.Anthropic.Key, cfg.Anthropic.Model)
	}

	tracker := cost.NewTracker(cfg.Pricing, st)
	trail := audit.NewTrail(st)

	mappingCoach := coach.New(provider, rules.NewMapper(nil), tracker, coach.Options{
		CallTimeout:  time.Duration(cfg.Coach.CallTimeoutSecs) * time.Second,
		MaxTokens:    int64(cfg.Coach.MaxTokens),
		PlanCacheTTL: time.Duration(cfg.Coach.PlanCacheTTLMins) * time.Minute,
	})
	dataValidator := validator.New(provider, tracker, validator.Options{
		StddevThreshold: cfg.Validator.StddevThreshold,
		Workers:         cfg.Validator.Workers,
		ChunkSize:       cfg.Validator.ChunkSize,
	})

	adapter := posadapter.NewFileAdapter(cfg.Adapter.ExportDir,
		posadapter.WithPageSize(cfg.Adapter.PageSize))

	var comm consent.Communicator
	if cfg.Consent.WebhookURL != "" {
		comm = consent.NewWebhook(cfg.Consent.WebhookURL,
			consent.WithTimeout(time.Duration(cfg.Consent.TimeoutSecs)*time.Second))
	}

	sink, err := initSink(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Import.MaxRetries

	orch := orchestrator.New(st, adapter, mappingCoach, dataValidator, trail, comm, sink, orchestrator.Options{
		BatchSize:     cfg.Import.BatchSize,
		Workers:       cfg.Import.Workers,
		Retry:         retry,
		TargetSchema:  schema,
		RetentionDays: cfg.Import.RetentionDays,
	})

	return &env{Store: st, Trail: trail, Tracker: tracker, Orch: orch}, nil
}

// initSink picks where transformed records land. With postgres the
// target_items table is used; with sqlite imports are held in memory,
// which suits dry runs and local rehearsals.
func initSink(ctx context.Context, st store.Store) (orchestrator.Sink, error) {
	pg, ok := st.(*store.PostgresStore)
	if !ok {
		return orchestrator.NewMemorySink(), nil
	}
	sink := orchestrator.NewPostgresSink(pg.Pool())
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func loadSchema(path string) ([]model.SchemaField, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read schema %s", path)
	}
	var schema []model.SchemaField
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, eris.Wrapf(err, "parse schema %s", path)
	}
	if len(schema) == 0 {
		return nil, eris.Errorf("schema %s is empty", path)
	}
	return schema, nil
}

// loadCustomers reads the customer consent roster for the migration.
func loadCustomers(path string) ([]model.Customer, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read customers %s", path)
	}
	var customers []model.Customer
	if err := json.Unmarshal(data, &customers); err != nil {
		return nil, eris.Wrapf(err, "parse customers %s", path)
	}
	return customers, nil
}
