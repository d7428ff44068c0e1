package coach

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/model"
)

// aiPlanResponse is the JSON shape the provider is asked to emit.
type aiPlanResponse struct {
	FieldMappings []struct {
		SourceField string  `json:"source_field"`
		TargetField string  `json:"target_field"`
		Confidence  float64 `json:"confidence"`
		Transform   string  `json:"transformation_kind"`
		Notes       string  `json:"notes"`
		CustomLogic string  `json:"custom_logic"`
	} `json:"field_mappings"`
	DataQualityIssues []string `json:"data_quality_issues"`
	RiskFactors       []string `json:"risk_factors"`
	Recommendations   []string `json:"recommendations"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// parsePlanResponse decodes the model's mapping proposal. Suggestions
// with an empty source or target, or a target outside the schema, are
// dropped; at most one suggestion may claim each target field.
func parsePlanResponse(content string, targetFields []string) (*aiPlanResponse, []model.MappingSuggestion, error) {
	cleaned := cleanJSON(content)

	var raw aiPlanResponse
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, nil, eris.Wrap(err, "coach: parse mapping response")
	}

	valid := make(map[string]bool, len(targetFields))
	for _, t := range targetFields {
		valid[t] = true
	}

	claimed := make(map[string]bool)
	var suggestions []model.MappingSuggestion
	for _, fm := range raw.FieldMappings {
		if fm.SourceField == "" || fm.TargetField == "" {
			continue
		}
		if !valid[fm.TargetField] || claimed[fm.TargetField] {
			continue
		}
		claimed[fm.TargetField] = true
		suggestions = append(suggestions, model.MappingSuggestion{
			SourceField: fm.SourceField,
			TargetField: fm.TargetField,
			Confidence:  model.ClampConfidence(fm.Confidence),
			Transform:   transformKind(fm.Transform),
			Source:      model.MappingSourceAI,
			Reasoning:   fm.Notes,
		})
	}

	return &raw, suggestions, nil
}

func transformKind(s string) model.TransformKind {
	switch model.TransformKind(s) {
	case model.TransformDirect, model.TransformRename, model.TransformCast,
		model.TransformCentsToUSD, model.TransformCustom:
		return model.TransformKind(s)
	default:
		return model.TransformDirect
	}
}

// cleanJSON strips markdown fences, extracts the outermost JSON object,
// and repairs truncation. Models fenced-in JSON often enough that this
// is cheaper than re-prompting.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return repairTruncatedJSON(strings.TrimSpace(text))
}

// repairTruncatedJSON closes unclosed brackets or braces in truncated
// model output.
func repairTruncatedJSON(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}

	return text
}
