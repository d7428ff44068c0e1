// Package cost tracks token usage and derives USD cost for every AI
// provider call made during a migration.
package cost

// ModelRate holds per-model token pricing in USD per 1K tokens.
type ModelRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// Rates maps model identifiers to their pricing.
type Rates map[string]ModelRate

// DefaultRates returns the built-in price table. Unknown models cost
// zero rather than failing the migration.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001": {
			InputPer1K: 0.0008, OutputPer1K: 0.004,
		},
		"claude-sonnet-4-5-20250929": {
			InputPer1K: 0.003, OutputPer1K: 0.015,
		},
		"claude-opus-4-6": {
			InputPer1K: 0.015, OutputPer1K: 0.075,
		},
	}
}

// Cost computes the USD cost of a call from the price table:
// (input × input_price + output × output_price) / 1000.
func (r Rates) Cost(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := r[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*rate.InputPer1K + float64(outputTokens)*rate.OutputPer1K) / 1000
}
