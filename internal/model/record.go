package model

import (
	"strconv"
	"strings"
)

// Record is the generic nested form a POS adapter normalizes exports into.
type Record map[string]any

// ID returns the record's identifier, trying the common vendor spellings.
func (r Record) ID() string {
	for _, k := range []string{"id", "uuid", "guid", "itemId", "item_id"} {
		if v, ok := r[k]; ok {
			return asString(v)
		}
	}
	return ""
}

// Get resolves a dot-separated path through nested maps.
func (r Record) Get(path string) (any, bool) {
	cur := any(map[string]any(r))
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves a path and coerces the value to a string.
func (r Record) GetString(path string) string {
	v, ok := r.Get(path)
	if !ok {
		return ""
	}
	return asString(v)
}

// GetFloat resolves a path and coerces the value to a float64.
// JSON decoding yields float64 for numbers; vendor CSV/XLSX exports
// frequently carry prices as strings.
func (r Record) GetFloat(path string) (float64, bool) {
	v, ok := r.Get(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

// SchemaField describes one field of the canonical target schema.
type SchemaField struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Required bool   `json:"required"`
}

// FieldNames extracts the names from a schema field list.
func FieldNames(fields []SchemaField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
