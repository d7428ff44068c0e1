package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/pkg/aiprovider"
)

const pricingSystemPrompt = `You are a data validation assistant for point-of-sale migrations.
You receive a sample of menu items from a specific POS vendor and flag
vendor-specific pricing quirks the statistical checks cannot see, such
as prices exported in cents instead of dollars, or currency-formatted
strings. Respond ONLY with JSON:
{"anomalies": [{"type": "...", "severity": "...", "affected_items": ["..."], "description": "...", "suggested_action": "..."}]}
Valid types: high_price, low_price, missing_price, decimal_error, invalid_format.
Valid severities: high, medium, low.
Return {"anomalies": []} when nothing looks wrong.`

const maxAIPricingSample = 20

// aiPricingPass asks the provider about vendor-specific quirks in a
// bounded item sample. Unknown anomaly types or severities in the
// response are dropped rather than trusted.
func (v *Validator) aiPricingPass(ctx context.Context, migrationID, tenantID string, items []model.Record, posType string, mean float64) ([]model.ValidationAnomaly, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sample := items
	if len(sample) > maxAIPricingSample {
		sample = sample[:maxAIPricingSample]
	}
	encoded, err := json.Marshal(sample)
	if err != nil {
		return nil, eris.Wrap(err, "validator: encode pricing sample")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "POS vendor: %s\n", posType)
	fmt.Fprintf(&b, "Mean price across the full export: %.2f\n", mean)
	fmt.Fprintf(&b, "Sample items (%d of %d):\n%s\n", len(sample), len(items), encoded)

	resp, err := v.provider.Generate(ctx, aiprovider.GenerateRequest{
		System:         pricingSystemPrompt,
		Prompt:         b.String(),
		MaxTokens:      1024,
		Temperature:    0.1,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, err
	}

	if v.tracker != nil {
		v.tracker.Track(migrationID, tenantID, model.OpValidatePricing,
			resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	var parsed struct {
		Anomalies []model.ValidationAnomaly `json:"anomalies"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		return nil, eris.Wrap(err, "validator: parse AI pricing response")
	}

	var out []model.ValidationAnomaly
	for _, a := range parsed.Anomalies {
		if !validAnomalyType(a.Type) || !validSeverity(a.Severity) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func validAnomalyType(t model.AnomalyType) bool {
	switch t {
	case model.AnomalyHighPrice, model.AnomalyLowPrice, model.AnomalyMissingPrice,
		model.AnomalyDecimalError, model.AnomalyInvalidFormat:
		return true
	}
	return false
}

func validSeverity(s model.Severity) bool {
	switch s {
	case model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
		return true
	}
	return false
}

// extractJSON trims markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}
