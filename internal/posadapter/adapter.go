// Package posadapter normalizes vendor POS exports into the generic
// record format the migration engine works on. Each vendor's export
// lands in the export directory (locally or via FTP dropbox) and is
// read back as items keyed by the vendor's own field names.
package posadapter

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/model"
)

// DefaultPageSize is how many records a Records page carries unless the
// adapter is configured otherwise.
const DefaultPageSize = 500

// Page is one slice of a vendor export. NextCursor is empty once the
// export is exhausted; passing it back to Records resumes where the
// previous page ended, so an interrupted import can restart.
type Page struct {
	Records    []model.Record
	NextCursor string
	Total      int
}

// Adapter is the contract a vendor integration fulfills.
type Adapter interface {
	// Sample returns a small representative slice of the export for
	// structure analysis.
	Sample(ctx context.Context, posType string) ([]model.Record, error)
	// Fields returns the vendor's field names as seen in the export.
	Fields(ctx context.Context, posType string) ([]string, error)
	// Records pages through the full export. An empty cursor starts from
	// the beginning.
	Records(ctx context.Context, posType, cursor string) (*Page, error)
	// Stats summarizes the export for complexity estimation.
	Stats(ctx context.Context, posType string) (model.DataStats, error)
}

// sampleSize is how many records Sample returns at most.
const sampleSize = 10

// parseCursor decodes a Records cursor back into an offset.
func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, eris.Errorf("posadapter: invalid cursor %q", cursor)
	}
	return n, nil
}

// page slices records at offset into a Page of at most size records.
func page(records []model.Record, offset, size int) *Page {
	p := &Page{Total: len(records)}
	if offset >= len(records) {
		return p
	}
	end := offset + size
	if end > len(records) {
		end = len(records)
	}
	p.Records = records[offset:end]
	if end < len(records) {
		p.NextCursor = strconv.Itoa(end)
	}
	return p
}

// deriveStats computes export statistics from normalized records.
func deriveStats(records []model.Record) model.DataStats {
	stats := model.DataStats{Items: len(records)}

	categories := make(map[string]bool)
	for _, rec := range records {
		for _, field := range []string{"category", "categoryName", "category_name", "categoryId", "category_id"} {
			if v := rec.GetString(field); v != "" {
				categories[v] = true
				break
			}
		}
		for _, field := range []string{"modifiers", "modifierGroups", "modifier_groups"} {
			if v, ok := rec.Get(field); ok {
				if list, ok := v.([]any); ok {
					stats.Modifiers += len(list)
				}
			}
		}
		for _, field := range []string{"customFields", "custom_fields", "customAttributes"} {
			if _, ok := rec.Get(field); ok {
				stats.HasCustomFields = true
			}
		}
	}
	stats.Categories = len(categories)
	return stats
}
