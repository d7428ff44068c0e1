package model

import "time"

// OperationType tags what a model call was for.
type OperationType string

const (
	OpAnalyzeStructure OperationType = "analyze_structure"
	OpSuggestMappings  OperationType = "suggest_mappings"
	OpValidatePricing  OperationType = "validate_pricing"
)

// TokenUsage records a single AI provider call for cost accounting.
// TotalTokens is always InputTokens + OutputTokens.
type TokenUsage struct {
	ID           string        `json:"id"`
	MigrationID  string        `json:"migration_id"`
	TenantID     string        `json:"tenant_id"`
	Operation    OperationType `json:"operation_type"`
	Model        string        `json:"model"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	TotalTokens  int64         `json:"total_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Period bounds a cost report query. A zero bound is open-ended.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}

// TokenCostReport aggregates usage for one tenant over a period.
type TokenCostReport struct {
	TenantID     string                  `json:"tenant_id"`
	Period       Period                  `json:"period"`
	Calls        int64                   `json:"calls"`
	InputTokens  int64                   `json:"input_tokens"`
	OutputTokens int64                   `json:"output_tokens"`
	TotalTokens  int64                   `json:"total_tokens"`
	CostUSD      float64                 `json:"cost_usd"`
	ByOperation  map[OperationType]int64 `json:"by_operation,omitempty"`
	ByModel      map[string]float64      `json:"by_model_usd,omitempty"`
	GeneratedAt  time.Time               `json:"generated_at"`
}
