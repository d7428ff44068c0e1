package coach

import "github.com/tablestack/posmigrate/internal/model"

// Complexity weights. Modifiers dominate because modifier graphs are
// where legacy POS exports hide their worst surprises.
const (
	weightItems      = 1
	weightCategories = 2
	weightModifiers  = 3
	weightCustom     = 100
)

// ComplexityScore computes the weighted complexity score for an export.
func ComplexityScore(stats model.DataStats) int {
	score := stats.Items*weightItems +
		stats.Categories*weightCategories +
		stats.Modifiers*weightModifiers
	if stats.HasCustomFields {
		score += weightCustom
	}
	return score
}

// EstimateComplexity buckets a score into a complexity tier and an
// estimated effort in hours. Deterministic: identical stats always
// produce identical results.
func EstimateComplexity(stats model.DataStats) (model.Complexity, float64) {
	score := ComplexityScore(stats)
	switch {
	case score < 500:
		return model.ComplexitySimple, 2
	case score < 2000:
		return model.ComplexityModerate, 4
	default:
		return model.ComplexityComplex, 8
	}
}
