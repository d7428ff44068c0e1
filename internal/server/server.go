// Package server exposes a read-only HTTP API over migration state:
// statuses, plans, validation reports, audit trails, cost reports, and
// a live progress event stream. All mutations go through the
// orchestrator, never this API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/audit"
	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/orchestrator"
	"github.com/tablestack/posmigrate/internal/store"
)

// Server serves the migration status API.
type Server struct {
	store   store.Store
	orch    *orchestrator.Orchestrator
	trail   *audit.Trail
	tracker *cost.Tracker
}

// New creates a Server. trail and tracker may be nil; their endpoints
// then return 404.
func New(st store.Store, orch *orchestrator.Orchestrator, trail *audit.Trail, tracker *cost.Tracker) *Server {
	return &Server{store: st, orch: orch, trail: trail, tracker: tracker}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/migrations", func(r chi.Router) {
			r.Get("/", s.handleListMigrations)
			r.Route("/{migrationID}", func(r chi.Router) {
				r.Get("/", s.handleGetMigration)
				r.Get("/plan", s.handleGetPlan)
				r.Get("/reports", s.handleListReports)
				r.Get("/audit", s.handleAuditTrail)
				r.Get("/events", s.handleEvents)
			})
		})
		r.Get("/tenants/{tenantID}/costs", s.handleTenantCosts)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "posmigrate",
	})
}

func (s *Server) handleListMigrations(w http.ResponseWriter, r *http.Request) {
	filter := store.MigrationFilter{
		TenantID: r.URL.Query().Get("tenant_id"),
		Phase:    model.MigrationPhase(r.URL.Query().Get("phase")),
	}
	migrations, err := s.store.ListMigrations(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if migrations == nil {
		migrations = []model.MigrationStatus{}
	}
	writeJSON(w, http.StatusOK, migrations)
}

func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.GetMigration(r.Context(), chi.URLParam(r, "migrationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(r.Context(), chi.URLParam(r, "migrationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.ListValidationReports(r.Context(), chi.URLParam(r, "migrationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []model.ValidationReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		http.NotFound(w, r)
		return
	}
	includeDetails := r.URL.Query().Get("details") != "false"
	doc, err := s.trail.GenerateAuditTrail(r.Context(), chi.URLParam(r, "migrationID"), includeDetails)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleTenantCosts(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		http.NotFound(w, r)
		return
	}
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	report, err := s.tracker.Report(r.Context(), chi.URLParam(r, "tenantID"), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEvents streams migration progress as server-sent events until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	migrationID := chi.URLParam(r, "migrationID")
	events, cancel := s.orch.Subscribe(migrationID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				zap.L().Error("server: marshal event", zap.Error(err))
				continue
			}
			_, _ = w.Write([]byte("event: " + string(evt.Type) + "\n"))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func parsePeriod(from, to string) (model.Period, error) {
	var period model.Period
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return period, err
		}
		period.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return period, err
		}
		period.To = t
	}
	return period, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if store.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	zap.L().Error("server: request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
