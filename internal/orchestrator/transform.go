package orchestrator

import (
	"strconv"

	"github.com/tablestack/posmigrate/internal/model"
)

// transformRecord applies a plan's active mappings to one source
// record, producing a record keyed by target fields. The source ID is
// always carried so batches stay reversible.
func transformRecord(rec model.Record, mappings []model.FieldMapping) model.Record {
	out := make(model.Record, len(mappings)+1)
	if id := rec.ID(); id != "" {
		out["id"] = id
	}

	for _, m := range mappings {
		val, ok := rec.Get(m.SourceField)
		if !ok {
			continue
		}
		out[m.TargetField] = applyTransform(val, m)
	}
	return out
}

func applyTransform(val any, m model.FieldMapping) any {
	switch m.Transform {
	case model.TransformCast:
		return castValue(val)
	case model.TransformCentsToUSD:
		if f, ok := toFloat(val); ok {
			return f / 100
		}
		return val
	default:
		// direct, rename, and custom carry the value as-is; custom logic
		// runs downstream in the target platform's importer.
		return val
	}
}

// castValue coerces numeric-looking strings into numbers, the cast the
// legacy exports actually need.
func castValue(val any) any {
	s, ok := val.(string)
	if !ok {
		return val
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return val
}

func toFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
