package model

import "time"

// TransformKind describes how a source value becomes a target value.
type TransformKind string

const (
	TransformDirect     TransformKind = "direct"
	TransformRename     TransformKind = "rename"
	TransformCast       TransformKind = "cast"
	TransformCentsToUSD TransformKind = "cents_to_usd"
	TransformCustom     TransformKind = "custom"
)

// MappingSource identifies which strategy produced a mapping.
type MappingSource string

const (
	MappingSourceAI      MappingSource = "ai"
	MappingSourceExact   MappingSource = "exact"
	MappingSourceSynonym MappingSource = "synonym"
	MappingSourceFuzzy   MappingSource = "fuzzy"
	MappingSourceHuman   MappingSource = "human_override"
)

// FieldMapping associates a legacy POS field with a canonical target field.
// Once accepted into a MigrationPlan a mapping is immutable; a human
// override appends an audit entry and creates a new version instead of
// editing in place.
type FieldMapping struct {
	ID           string        `json:"id"`
	SourceField  string        `json:"source_field"`
	TargetField  string        `json:"target_field"`
	Confidence   float64       `json:"confidence"`
	Transform    TransformKind `json:"transformation_kind"`
	Source       MappingSource `json:"source"`
	Notes        string        `json:"notes,omitempty"`
	CustomLogic  string        `json:"custom_logic,omitempty"`
	Version      int           `json:"version"`
	SupersededBy string        `json:"superseded_by,omitempty"`
}

// MappingSuggestion is a candidate mapping not yet accepted into a plan.
type MappingSuggestion struct {
	SourceField string        `json:"source_field"`
	TargetField string        `json:"target_field"`
	Confidence  float64       `json:"confidence"`
	Transform   TransformKind `json:"transformation_kind"`
	Source      MappingSource `json:"source"`
	Reasoning   string        `json:"reasoning,omitempty"`
}

// Complexity buckets a migration by estimated effort.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// DataStats summarizes a POS export for complexity estimation.
type DataStats struct {
	Items           int  `json:"items"`
	Categories      int  `json:"categories"`
	Modifiers       int  `json:"modifiers"`
	Customers       int  `json:"customers"`
	HasCustomFields bool `json:"has_custom_fields"`
}

// MigrationPlan is the Coach's full proposal for one migration attempt.
type MigrationPlan struct {
	ID                string         `json:"id"`
	MigrationID       string         `json:"migration_id"`
	POSType           string         `json:"pos_type"`
	FieldMappings     []FieldMapping `json:"field_mappings"`
	DataQualityIssues []string       `json:"data_quality_issues,omitempty"`
	Complexity        Complexity     `json:"complexity"`
	EstimatedHours    float64        `json:"estimated_hours"`
	RiskFactors       []string       `json:"risk_factors,omitempty"`
	Recommendations   []string       `json:"recommendations,omitempty"`
	ConfidenceScore   float64        `json:"confidence_score"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// ActiveMappings returns the plan's mappings that have not been superseded
// by a human override.
func (p *MigrationPlan) ActiveMappings() []FieldMapping {
	out := make([]FieldMapping, 0, len(p.FieldMappings))
	for _, m := range p.FieldMappings {
		if m.SupersededBy == "" {
			out = append(out, m)
		}
	}
	return out
}

// MappingFor returns the active mapping claiming the given target field,
// or nil if no mapping claims it.
func (p *MigrationPlan) MappingFor(targetField string) *FieldMapping {
	for i := range p.FieldMappings {
		m := &p.FieldMappings[i]
		if m.SupersededBy == "" && m.TargetField == targetField {
			return m
		}
	}
	return nil
}

// ClampConfidence forces a confidence score into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
