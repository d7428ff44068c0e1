package cost

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/model"
)

// UsageStore is the slice of persistence the tracker needs.
type UsageStore interface {
	InsertTokenUsage(ctx context.Context, usage model.TokenUsage) error
	ListTokenUsage(ctx context.Context, tenantID string, period model.Period) ([]model.TokenUsage, error)
}

// tenantCounters accumulates cross-migration running totals. Multiple
// migrations for one tenant may run concurrently, so updates are atomic.
type tenantCounters struct {
	calls        atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	// costMicroUSD stores cost in millionths of a dollar so the hot path
	// stays a single atomic add.
	costMicroUSD atomic.Int64
}

// Tracker records token usage for every AI call. Recording is
// fire-and-forget with respect to the migration's critical path: Track
// returns immediately and persistence happens on a background writer.
type Tracker struct {
	rates Rates
	store UsageStore

	mu       sync.RWMutex
	counters map[string]*tenantCounters

	// qmu orders queue sends against Close so a concurrent Close cannot
	// close the channel between the closed check and the send.
	qmu    sync.RWMutex
	queue  chan model.TokenUsage
	wg     sync.WaitGroup
	closed atomic.Bool

	now func() time.Time
}

// NewTracker creates a Tracker persisting to the given store. A nil
// store keeps records in counters only (used by dry runs and tests).
func NewTracker(rates Rates, store UsageStore) *Tracker {
	t := &Tracker{
		rates:    rates,
		store:    store,
		counters: make(map[string]*tenantCounters),
		queue:    make(chan model.TokenUsage, 256),
		now:      time.Now,
	}
	t.wg.Add(1)
	go t.writer()
	return t
}

// WithNow sets a fixed clock for testing.
func (t *Tracker) WithNow(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Track records one AI call and returns the usage record with its cost.
// It never blocks the caller: the record is queued for persistence, and
// if the queue is full it is persisted on a detached goroutine instead
// of being dropped.
func (t *Tracker) Track(migrationID, tenantID string, op model.OperationType, modelID string, inputTokens, outputTokens int64) model.TokenUsage {
	usage := model.TokenUsage{
		ID:           uuid.New().String(),
		MigrationID:  migrationID,
		TenantID:     tenantID,
		Operation:    op,
		Model:        modelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		CostUSD:      t.rates.Cost(modelID, inputTokens, outputTokens),
		Timestamp:    t.now().UTC(),
	}

	c := t.tenant(tenantID)
	c.calls.Add(1)
	c.inputTokens.Add(inputTokens)
	c.outputTokens.Add(outputTokens)
	c.costMicroUSD.Add(int64(usage.CostUSD * 1e6))

	t.qmu.RLock()
	if t.closed.Load() {
		t.qmu.RUnlock()
		t.persist(usage)
		return usage
	}
	select {
	case t.queue <- usage:
	default:
		// Queue saturated; persist out-of-band rather than drop.
		go t.persist(usage)
	}
	t.qmu.RUnlock()

	return usage
}

// Report aggregates a tenant's usage for a period. With no usage it
// returns zero totals, not an error.
func (t *Tracker) Report(ctx context.Context, tenantID string, period model.Period) (*model.TokenCostReport, error) {
	report := &model.TokenCostReport{
		TenantID:    tenantID,
		Period:      period,
		ByOperation: make(map[model.OperationType]int64),
		ByModel:     make(map[string]float64),
		GeneratedAt: t.now().UTC(),
	}

	if t.store == nil {
		return report, nil
	}

	usages, err := t.store.ListTokenUsage(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}

	for _, u := range usages {
		report.Calls++
		report.InputTokens += u.InputTokens
		report.OutputTokens += u.OutputTokens
		report.TotalTokens += u.TotalTokens
		report.CostUSD += u.CostUSD
		report.ByOperation[u.Operation]++
		report.ByModel[u.Model] += u.CostUSD
	}

	return report, nil
}

// TenantTotals returns the in-memory running totals for a tenant.
func (t *Tracker) TenantTotals(tenantID string) (calls, inputTokens, outputTokens int64, costUSD float64) {
	c := t.tenant(tenantID)
	return c.calls.Load(), c.inputTokens.Load(), c.outputTokens.Load(),
		float64(c.costMicroUSD.Load()) / 1e6
}

// Close drains the persistence queue. Track remains safe to call and
// persists synchronously afterwards.
func (t *Tracker) Close() {
	t.qmu.Lock()
	if t.closed.Swap(true) {
		t.qmu.Unlock()
		return
	}
	close(t.queue)
	t.qmu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) tenant(tenantID string) *tenantCounters {
	t.mu.RLock()
	c, ok := t.counters[tenantID]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.counters[tenantID]; ok {
		return c
	}
	c = &tenantCounters{}
	t.counters[tenantID] = c
	return c
}

func (t *Tracker) writer() {
	defer t.wg.Done()
	for usage := range t.queue {
		t.persist(usage)
	}
}

func (t *Tracker) persist(usage model.TokenUsage) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.store.InsertTokenUsage(ctx, usage); err != nil {
		zap.L().Error("cost: persist token usage failed",
			zap.String("migration_id", usage.MigrationID),
			zap.String("tenant_id", usage.TenantID),
			zap.Error(err),
		)
	}
}
