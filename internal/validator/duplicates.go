package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tablestack/posmigrate/internal/model"
)

// DetectDuplicates groups items sharing a composite key built from
// keyFields and returns every group with more than one member. Groups
// come out ordered by key for deterministic reports.
func (v *Validator) DetectDuplicates(items []model.Record, keyFields []string) []model.DuplicateGroup {
	type member struct {
		id    string
		price float64
		found bool
	}
	groups := make(map[string][]member)

	for i, rec := range items {
		key := compositeKey(rec, keyFields)
		if key == "" {
			continue
		}
		m := member{id: itemID(rec, i)}
		for _, field := range v.opts.PriceFields {
			if f, ok := rec.GetFloat(field); ok {
				m.price, m.found = f, true
				break
			}
		}
		groups[key] = append(groups[key], m)
	}

	var out []model.DuplicateGroup
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		g := model.DuplicateGroup{Key: key}
		for _, m := range members {
			g.ItemIDs = append(g.ItemIDs, m.id)
			if m.found && members[0].found && m.price != members[0].price {
				g.PricesDiffer = true
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ValidateDuplicates wraps DetectDuplicates findings into a report.
// Duplicates whose prices disagree are far more likely to be real data
// problems than a benign re-export, so they rank high.
func (v *Validator) ValidateDuplicates(migrationID string, items []model.Record, keyFields []string) *model.ValidationReport {
	report := v.newReport(migrationID, "duplicates")

	for _, g := range v.DetectDuplicates(items, keyFields) {
		severity := model.SeverityLow
		action := "deduplicate before import or confirm this is an intentional re-export"
		if g.PricesDiffer {
			severity = model.SeverityHigh
			action = "resolve the price conflict in the source system before import"
		}
		report.Anomalies = append(report.Anomalies, model.ValidationAnomaly{
			Type:            model.AnomalyDuplicate,
			Severity:        severity,
			AffectedItems:   g.ItemIDs,
			Description:     fmt.Sprintf("%d items share key %q", len(g.ItemIDs), g.Key),
			SuggestedAction: action,
		})
	}

	report.Finalize()
	return report
}

// compositeKey joins the normalized values of keyFields. Records with
// every key field empty produce no key and are never grouped.
func compositeKey(rec model.Record, keyFields []string) string {
	parts := make([]string, 0, len(keyFields))
	empty := true
	for _, field := range keyFields {
		val := strings.ToLower(strings.TrimSpace(rec.GetString(field)))
		if val != "" {
			empty = false
		}
		parts = append(parts, val)
	}
	if empty {
		return ""
	}
	return strings.Join(parts, "|")
}
