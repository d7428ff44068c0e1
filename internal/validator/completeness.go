package validator

import (
	"fmt"

	"github.com/tablestack/posmigrate/internal/model"
)

// CheckCompleteness reports every required field that is absent or empty
// on at least one record. One anomaly is emitted per missing field so
// operators can resolve them independently.
func (v *Validator) CheckCompleteness(migrationID string, data []model.Record, requiredFields []string) (*model.ValidationReport, error) {
	report := v.newReport(migrationID, "completeness")

	// Per-chunk results are merged by chunk index afterwards so affected
	// item lists come out in input order regardless of scheduling.
	chunkResults := make([]map[string][]string, chunkCount(len(data), v.opts.ChunkSize))

	err := v.forEachChunk(data, func(offset int, chunk []model.Record) error {
		local := make(map[string][]string)
		for i, rec := range chunk {
			for _, field := range requiredFields {
				val, ok := rec.Get(field)
				if ok && val != nil && val != "" {
					continue
				}
				local[field] = append(local[field], itemID(rec, offset+i))
			}
		}
		chunkResults[offset/v.opts.ChunkSize] = local
		return nil
	})
	if err != nil {
		return nil, err
	}

	missing := make(map[string][]string, len(requiredFields))
	for _, local := range chunkResults {
		for field, ids := range local {
			missing[field] = append(missing[field], ids...)
		}
	}

	for _, field := range requiredFields {
		ids := missing[field]
		if len(ids) == 0 {
			continue
		}
		report.Anomalies = append(report.Anomalies, model.ValidationAnomaly{
			Type:            model.AnomalyMissingField,
			Severity:        model.SeverityHigh,
			AffectedItems:   ids,
			Description:     fmt.Sprintf("required field %q is missing or empty on %d record(s)", field, len(ids)),
			SuggestedAction: "populate the field in the source system or adjust the field mapping",
		})
	}

	report.Finalize()
	return report, nil
}
