package coach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tablestack/posmigrate/internal/model"
)

const systemPrompt = `You are a point-of-sale data migration assistant. You map fields from a legacy POS export onto a canonical target schema. Respond with a single JSON object and nothing else.`

// maxSampleRecords bounds how much of the export goes into the prompt.
const maxSampleRecords = 5

// maxSampleBytes caps the serialized sample so a pathological export
// cannot blow the token budget.
const maxSampleBytes = 8192

// buildMappingPrompt constructs the bounded prompt for suggest_mappings.
func buildMappingPrompt(posType string, sourceFields []string, targetSchema []model.SchemaField, sample []model.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "POS type: %s\n\n", posType)

	b.WriteString("Source fields:\n")
	for _, f := range sourceFields {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\nTarget schema:\n")
	for _, f := range targetSchema {
		req := ""
		if f.Required {
			req = " (required)"
		}
		fmt.Fprintf(&b, "- %s: %s%s\n", f.Name, f.DataType, req)
	}

	if s := truncatedSample(sample); s != "" {
		b.WriteString("\nSample records:\n")
		b.WriteString(s)
	}

	b.WriteString(`
Propose one mapping per source field. Respond with JSON:
{
  "field_mappings": [
    {"source_field": "...", "target_field": "...", "confidence": 0.0, "transformation_kind": "direct|rename|cast|cents_to_usd|custom", "notes": "..."}
  ],
  "data_quality_issues": ["..."],
  "risk_factors": ["..."],
  "recommendations": ["..."],
  "confidence_score": 0.0
}
Omit source fields that have no sensible target. Confidence must be between 0 and 1.`)

	return b.String()
}

// truncatedSample serializes at most maxSampleRecords records, dropping
// the tail if the payload exceeds maxSampleBytes.
func truncatedSample(sample []model.Record) string {
	if len(sample) > maxSampleRecords {
		sample = sample[:maxSampleRecords]
	}
	for len(sample) > 0 {
		data, err := json.MarshalIndent(sample, "", "  ")
		if err != nil {
			return ""
		}
		if len(data) <= maxSampleBytes {
			return string(data)
		}
		sample = sample[:len(sample)-1]
	}
	return ""
}
