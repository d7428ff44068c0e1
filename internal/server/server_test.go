package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestack/posmigrate/internal/audit"
	"github.com/tablestack/posmigrate/internal/coach"
	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/orchestrator"
	"github.com/tablestack/posmigrate/internal/posadapter"
	"github.com/tablestack/posmigrate/internal/rules"
	"github.com/tablestack/posmigrate/internal/store"
	"github.com/tablestack/posmigrate/internal/validator"
)

// apiStore is the in-memory store.Store slice the API tests need.
type apiStore struct {
	mu         sync.Mutex
	migrations map[string]model.MigrationStatus
	plans      map[string]*model.MigrationPlan
	reports    map[string][]model.ValidationReport
	usage      []model.TokenUsage
	auditLog   []model.AuditLogEntry
	batches    map[string]map[int]model.BatchResult
}

func newAPIStore() *apiStore {
	return &apiStore{
		migrations: make(map[string]model.MigrationStatus),
		plans:      make(map[string]*model.MigrationPlan),
		reports:    make(map[string][]model.ValidationReport),
		batches:    make(map[string]map[int]model.BatchResult),
	}
}

func (s *apiStore) CreateMigration(_ context.Context, status model.MigrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations[status.MigrationID] = status
	return nil
}

func (s *apiStore) UpdateMigration(_ context.Context, status model.MigrationStatus) error {
	return s.CreateMigration(context.Background(), status)
}

func (s *apiStore) GetMigration(_ context.Context, migrationID string) (*model.MigrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.migrations[migrationID]
	if !ok {
		return nil, &store.NotFoundError{Kind: "migration", ID: migrationID}
	}
	return &status, nil
}

func (s *apiStore) ListMigrations(_ context.Context, filter store.MigrationFilter) ([]model.MigrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MigrationStatus
	for _, m := range s.migrations {
		if filter.TenantID != "" && m.TenantID != filter.TenantID {
			continue
		}
		if filter.Phase != "" && m.Phase != filter.Phase {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *apiStore) SavePlan(_ context.Context, plan *model.MigrationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *plan
	s.plans[plan.MigrationID] = &cp
	return nil
}

func (s *apiStore) GetPlan(_ context.Context, migrationID string) (*model.MigrationPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[migrationID]
	if !ok {
		return nil, &store.NotFoundError{Kind: "plan", ID: migrationID}
	}
	return plan, nil
}

func (s *apiStore) SaveValidationReport(_ context.Context, report *model.ValidationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.MigrationID] = append(s.reports[report.MigrationID], *report)
	return nil
}

func (s *apiStore) ListValidationReports(_ context.Context, migrationID string) ([]model.ValidationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[migrationID], nil
}

func (s *apiStore) InsertTokenUsage(_ context.Context, usage model.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

func (s *apiStore) ListTokenUsage(_ context.Context, tenantID string, period model.Period) ([]model.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TokenUsage
	for _, u := range s.usage {
		if u.TenantID == tenantID && period.Contains(u.Timestamp) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *apiStore) AppendAuditEntry(_ context.Context, entry model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLog = append(s.auditLog, entry)
	return nil
}

func (s *apiStore) ListAuditEntries(_ context.Context, migrationID string) ([]model.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditLogEntry
	for _, e := range s.auditLog {
		if e.MigrationID == migrationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *apiStore) RecordBatch(_ context.Context, batch model.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches[batch.MigrationID] == nil {
		s.batches[batch.MigrationID] = make(map[int]model.BatchResult)
	}
	s.batches[batch.MigrationID][batch.BatchIndex] = batch
	return nil
}

func (s *apiStore) ListBatches(_ context.Context, migrationID string) ([]model.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BatchResult
	for _, b := range s.batches[migrationID] {
		out = append(out, b)
	}
	return out, nil
}

func (s *apiStore) MarkBatchRolledBack(_ context.Context, migrationID string, batchIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[migrationID][batchIndex]
	b.RolledBack = true
	s.batches[migrationID][batchIndex] = b
	return nil
}

func (s *apiStore) Migrate(context.Context) error { return nil }
func (s *apiStore) Close() error                  { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *apiStore, *orchestrator.Orchestrator, *cost.Tracker) {
	t.Helper()

	st := newAPIStore()
	trail := audit.NewTrail(st)
	tracker := cost.NewTracker(cost.DefaultRates(), nil)
	t.Cleanup(tracker.Close)

	adapter := posadapter.NewFixture(map[string][]model.Record{
		"legacypos": {
			{"id": "r1", "name": "Latte", "price": 4.5},
			{"id": "r2", "name": "Mocha", "price": 5.0},
		},
	})
	orch := orchestrator.New(
		st, adapter,
		coach.New(nil, rules.NewMapper(nil), nil, coach.Options{}),
		validator.New(nil, nil, validator.Options{}),
		trail, nil, orchestrator.NewMemorySink(),
		orchestrator.Options{TargetSchema: []model.SchemaField{
			{Name: "name", DataType: "string", Required: true},
			{Name: "price", DataType: "number", Required: true},
		}},
	)

	srv := httptest.NewServer(New(st, orch, trail, tracker).Router())
	t.Cleanup(srv.Close)
	return srv, st, orch, tracker
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	var body map[string]string
	code := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestGetMigrationStatus(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	require.NoError(t, st.CreateMigration(context.Background(), model.MigrationStatus{
		MigrationID: "mig-1",
		TenantID:    "tenant-1",
		Phase:       model.PhaseImport,
	}))

	var got model.MigrationStatus
	code := getJSON(t, srv.URL+"/api/v1/migrations/mig-1", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.PhaseImport, got.Phase)

	code = getJSON(t, srv.URL+"/api/v1/migrations/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListMigrationsFiltered(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMigration(ctx, model.MigrationStatus{MigrationID: "m1", TenantID: "t1", Phase: model.PhaseSetup}))
	require.NoError(t, st.CreateMigration(ctx, model.MigrationStatus{MigrationID: "m2", TenantID: "t2", Phase: model.PhaseImport}))

	var got []model.MigrationStatus
	code := getJSON(t, srv.URL+"/api/v1/migrations/?tenant_id=t1", &got)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MigrationID)

	got = nil
	code = getJSON(t, srv.URL+"/api/v1/migrations/?tenant_id=t3", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, got)
}

func TestGetPlanAndReports(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.SavePlan(ctx, &model.MigrationPlan{
		ID:          "plan-1",
		MigrationID: "mig-1",
		Complexity:  model.ComplexityModerate,
	}))
	require.NoError(t, st.SaveValidationReport(ctx, &model.ValidationReport{
		ID:          "vr-1",
		MigrationID: "mig-1",
		Kind:        "pricing",
	}))

	var plan model.MigrationPlan
	code := getJSON(t, srv.URL+"/api/v1/migrations/mig-1/plan", &plan)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.ComplexityModerate, plan.Complexity)

	var reports []model.ValidationReport
	code = getJSON(t, srv.URL+"/api/v1/migrations/mig-1/reports", &reports)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, reports, 1)
	assert.Equal(t, "pricing", reports[0].Kind)
}

func TestAuditTrailEndpoint(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	trail := audit.NewTrail(st)
	_, err := trail.Append(context.Background(), model.AuditLogEntry{
		MigrationID: "mig-1",
		Operation:   model.AuditPhaseChange,
		AgentName:   "orchestrator",
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/migrations/mig-1/audit")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			break
		}
	}
	assert.Contains(t, buf.String(), "mig-1")
	assert.Contains(t, buf.String(), "phase_change")
}

func TestTenantCosts(t *testing.T) {
	srv, _, _, tracker := newTestServer(t)
	tracker.Track("mig-1", "tenant-1", model.OpSuggestMappings, "claude-sonnet-4-5", 900, 150)

	var report model.TokenCostReport
	code := getJSON(t, srv.URL+"/api/v1/tenants/tenant-1/costs", &report)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), report.Calls)
	assert.Equal(t, int64(900), report.InputTokens)
	assert.Greater(t, report.CostUSD, 0.0)

	code = getJSON(t, srv.URL+"/api/v1/tenants/tenant-1/costs?from=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEventStream(t *testing.T) {
	srv, _, orch, _ := newTestServer(t)
	ctx := context.Background()

	status, err := orch.StartMigration(ctx, "tenant-1", "conn-1", "legacypos")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/migrations/" + status.MigrationID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription is live once headers arrive; trigger an event.
	_, err = orch.RunAnalysis(ctx, status.MigrationID)
	require.NoError(t, err)

	type line struct {
		text string
		err  error
	}
	lines := make(chan line, 16)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			text, err := reader.ReadString('\n')
			lines <- line{text: text, err: err}
			if err != nil {
				return
			}
		}
	}()

	deadline := time.After(5 * time.Second)
	var sawEvent, sawData bool
	for !(sawEvent && sawData) {
		select {
		case l := <-lines:
			require.NoError(t, l.err)
			if strings.HasPrefix(l.text, "event: ") {
				sawEvent = true
			}
			if strings.HasPrefix(l.text, "data: ") {
				sawData = true
				var evt model.MigrationProgressEvent
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(l.text), "data: ")), &evt))
				assert.Equal(t, status.MigrationID, evt.MigrationID)
			}
		case <-deadline:
			t.Fatal("no event received from stream")
		}
	}
}
