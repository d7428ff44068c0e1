// Package coach proposes field mappings and migration plans, combining
// AI suggestions with the deterministic rule engine. The rule-based path
// is a first-class strategy selected by policy, not a crash handler.
package coach

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/cache"
	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/internal/resilience"
	"github.com/tablestack/posmigrate/internal/rules"
	"github.com/tablestack/posmigrate/pkg/aiprovider"
)

// fallbackConfidenceCap bounds the overall plan confidence whenever the
// rule-based path produced the mappings.
const fallbackConfidenceCap = 0.7

// Options tunes the Coach.
type Options struct {
	// CallTimeout bounds each AI provider call. Default: 30s.
	CallTimeout time.Duration
	// MaxTokens caps the provider response size. Default: 2048.
	MaxTokens int64
	// Temperature for generation; kept low for reproducibility. Default: 0.1.
	Temperature float64
	// PlanCacheTTL controls how long raw plans are reused. Default: 1h.
	PlanCacheTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2048
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.1
	}
	if o.PlanCacheTTL <= 0 {
		o.PlanCacheTTL = time.Hour
	}
	return o
}

// AnalyzeInput carries everything AnalyzeStructure needs.
type AnalyzeInput struct {
	MigrationID  string
	TenantID     string
	POSType      string
	Sample       []model.Record
	Stats        model.DataStats
	TargetSchema []model.SchemaField
}

// cachedSuggestions remembers which strategy produced a cached result,
// so a replayed fallback result is still reported as fallback.
type cachedSuggestions struct {
	suggestions []model.MappingSuggestion
	viaAI       bool
}

// Coach proposes mappings and plans for a migration.
type Coach struct {
	provider  aiprovider.Provider
	mapper    *rules.Mapper
	breaker   *resilience.Breaker
	tracker   *cost.Tracker
	planCache *cache.TTLCache[cachedSuggestions]
	opts      Options
	now       func() time.Time
}

// New creates a Coach. provider may be nil, in which case every call
// takes the rule-based path.
func New(provider aiprovider.Provider, mapper *rules.Mapper, tracker *cost.Tracker, opts Options) *Coach {
	opts = opts.withDefaults()
	return &Coach{
		provider:  provider,
		mapper:    mapper,
		breaker:   resilience.NewBreaker(resilience.CircuitConfig{}),
		tracker:   tracker,
		planCache: cache.New[cachedSuggestions](opts.PlanCacheTTL),
		opts:      opts,
		now:       time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (c *Coach) WithNow(now func() time.Time) *Coach {
	c.now = now
	return c
}

// SuggestMappings proposes mappings from source fields onto the target
// schema. The AI path is used when a provider is configured and its
// circuit is closed; every failure mode (timeout, quota, malformed
// response) degrades to the rule engine. Errors are never fatal.
func (c *Coach) SuggestMappings(ctx context.Context, migrationID, tenantID, posType string, sourceFields []string, targetSchema []model.SchemaField, sample []model.Record) ([]model.MappingSuggestion, bool) {
	targetFields := model.FieldNames(targetSchema)

	key := cache.SchemaKey(posType, append(append([]string{}, sourceFields...), targetFields...))
	if cached, ok := c.planCache.Get(key); ok {
		return cached.suggestions, cached.viaAI
	}

	if c.provider != nil {
		suggestions, err := c.suggestViaAI(ctx, migrationID, tenantID, posType, sourceFields, targetSchema, sample)
		if err == nil {
			c.planCache.Set(key, cachedSuggestions{suggestions: suggestions, viaAI: true})
			return suggestions, true
		}
		zap.L().Warn("coach: AI mapping failed, using rule engine",
			zap.String("migration_id", migrationID),
			zap.String("pos_type", posType),
			zap.Error(err),
		)
	}

	suggestions := c.mapper.Suggest(sourceFields, targetFields)
	c.planCache.Set(key, cachedSuggestions{suggestions: suggestions})
	return suggestions, false
}

// AnalyzeStructure produces a full migration plan for an export.
func (c *Coach) AnalyzeStructure(ctx context.Context, in AnalyzeInput) (*model.MigrationPlan, error) {
	if len(in.TargetSchema) == 0 {
		return nil, eris.New("coach: empty target schema")
	}

	sourceFields := sourceFieldsFromSample(in.Sample)
	if len(sourceFields) == 0 {
		return nil, eris.New("coach: sample has no fields")
	}

	suggestions, viaAI := c.SuggestMappings(ctx, in.MigrationID, in.TenantID, in.POSType, sourceFields, in.TargetSchema, in.Sample)

	complexity, hours := EstimateComplexity(in.Stats)

	plan := &model.MigrationPlan{
		ID:             uuid.New().String(),
		MigrationID:    in.MigrationID,
		POSType:        in.POSType,
		Complexity:     complexity,
		EstimatedHours: hours,
		GeneratedAt:    c.now().UTC(),
	}

	for _, s := range suggestions {
		plan.FieldMappings = append(plan.FieldMappings, model.FieldMapping{
			ID:          uuid.New().String(),
			SourceField: s.SourceField,
			TargetField: s.TargetField,
			Confidence:  s.Confidence,
			Transform:   s.Transform,
			Source:      s.Source,
			Notes:       s.Reasoning,
			Version:     1,
		})
	}

	// Required target fields nobody claimed are quality issues the
	// operator has to resolve before import.
	for _, f := range in.TargetSchema {
		if f.Required && plan.MappingFor(f.Name) == nil {
			plan.DataQualityIssues = append(plan.DataQualityIssues,
				"no source field maps to required target field "+f.Name)
		}
	}

	plan.ConfidenceScore = planConfidence(plan.FieldMappings)
	if !viaAI {
		if plan.ConfidenceScore > fallbackConfidenceCap {
			plan.ConfidenceScore = fallbackConfidenceCap
		}
		plan.RiskFactors = append(plan.RiskFactors,
			"AI provider unavailable; mappings produced by rule-based fallback")
	}
	if complexity == model.ComplexityComplex {
		plan.Recommendations = append(plan.Recommendations,
			"run a trial import against a staging dataset before committing")
	}
	if in.Stats.HasCustomFields {
		plan.RiskFactors = append(plan.RiskFactors,
			"export contains custom fields that may need manual mapping")
	}

	return plan, nil
}

// suggestViaAI runs the provider call through the circuit breaker with a
// bounded timeout, records token usage, and validates the response.
func (c *Coach) suggestViaAI(ctx context.Context, migrationID, tenantID, posType string, sourceFields []string, targetSchema []model.SchemaField, sample []model.Record) ([]model.MappingSuggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	req := aiprovider.GenerateRequest{
		System:         systemPrompt,
		Prompt:         buildMappingPrompt(posType, sourceFields, targetSchema, sample),
		MaxTokens:      c.opts.MaxTokens,
		Temperature:    c.opts.Temperature,
		ResponseFormat: "json",
	}

	resp, err := resilience.Execute(ctx, c.breaker, func(ctx context.Context) (*aiprovider.GenerateResponse, error) {
		return c.provider.Generate(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if c.tracker != nil {
		c.tracker.Track(migrationID, tenantID, model.OpSuggestMappings,
			resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	_, suggestions, err := parsePlanResponse(resp.Content, model.FieldNames(targetSchema))
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 {
		return nil, eris.New("coach: AI response contained no usable mappings")
	}
	return suggestions, nil
}

// planConfidence is the mean confidence of the plan's mappings.
func planConfidence(mappings []model.FieldMapping) float64 {
	if len(mappings) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range mappings {
		sum += m.Confidence
	}
	return model.ClampConfidence(sum / float64(len(mappings)))
}

// sourceFieldsFromSample collects the union of top-level keys across
// sample records, preserving first-seen order for deterministic mapping.
func sourceFieldsFromSample(sample []model.Record) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, rec := range sample {
		for _, k := range recordKeys(rec) {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	return fields
}

// recordKeys returns a record's keys in sorted order so field discovery
// does not depend on map iteration.
func recordKeys(rec model.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
