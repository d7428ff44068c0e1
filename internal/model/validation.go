package model

import "time"

// AnomalyType classifies a validation finding.
type AnomalyType string

const (
	AnomalyHighPrice     AnomalyType = "high_price"
	AnomalyLowPrice      AnomalyType = "low_price"
	AnomalyMissingPrice  AnomalyType = "missing_price"
	AnomalyDecimalError  AnomalyType = "decimal_error"
	AnomalyDuplicate     AnomalyType = "duplicate"
	AnomalyInvalidFormat AnomalyType = "invalid_format"
	AnomalyMissingField  AnomalyType = "missing_field"
)

// Severity ranks how strongly an anomaly should block a migration.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ValidationAnomaly is a single finding from the Sync Validator.
type ValidationAnomaly struct {
	Type            AnomalyType `json:"type"`
	Severity        Severity    `json:"severity"`
	AffectedItems   []string    `json:"affected_items"`
	Description     string      `json:"description"`
	SuggestedAction string      `json:"suggested_action,omitempty"`
}

// ValidationSummary rolls up a report's findings.
type ValidationSummary struct {
	TotalIssues          int     `json:"total_issues"`
	RequiresManualReview bool    `json:"requires_manual_review"`
	Confidence           float64 `json:"confidence"`
}

// ValidationReport groups anomalies found in one validation pass.
type ValidationReport struct {
	ID          string              `json:"id"`
	MigrationID string              `json:"migration_id"`
	Kind        string              `json:"kind"` // "pricing", "completeness", "duplicates", "verification"
	Anomalies   []ValidationAnomaly `json:"anomalies"`
	Summary     ValidationSummary   `json:"summary"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// HighSeverityCount returns the number of high-severity anomalies.
func (r *ValidationReport) HighSeverityCount() int {
	n := 0
	for _, a := range r.Anomalies {
		if a.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

// Finalize computes the summary from the collected anomalies.
func (r *ValidationReport) Finalize() {
	r.Summary.TotalIssues = len(r.Anomalies)
	r.Summary.RequiresManualReview = r.HighSeverityCount() > 0

	// Confidence degrades with issue density; high-severity findings weigh
	// three times a low one.
	weight := 0.0
	for _, a := range r.Anomalies {
		switch a.Severity {
		case SeverityHigh:
			weight += 0.15
		case SeverityMedium:
			weight += 0.08
		default:
			weight += 0.05
		}
	}
	r.Summary.Confidence = ClampConfidence(1.0 - weight)
}

// DuplicateGroup is a set of items sharing a composite key.
type DuplicateGroup struct {
	Key     string   `json:"key"`
	ItemIDs []string `json:"item_ids"`
	// PricesDiffer marks groups whose members disagree on price, which is
	// far more likely to be a real data problem than a benign re-export.
	PricesDiffer bool `json:"prices_differ"`
}
