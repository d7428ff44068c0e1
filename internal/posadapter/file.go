package posadapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/tablestack/posmigrate/internal/model"
)

// FileAdapter reads vendor exports from a directory. For a posType
// "square" it looks for square.json (an array of item objects) and
// falls back to square.xlsx (first sheet, header row). Exports are
// loaded once and cached for the adapter's lifetime; a migration runs
// against a frozen export, not a live feed.
type FileAdapter struct {
	dir      string
	pageSize int

	mu     sync.Mutex
	loaded map[string][]model.Record
}

// FileOption configures a FileAdapter.
type FileOption func(*FileAdapter)

// WithPageSize overrides the Records page size.
func WithPageSize(n int) FileOption {
	return func(a *FileAdapter) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// NewFileAdapter creates an adapter reading exports from dir.
func NewFileAdapter(dir string, opts ...FileOption) *FileAdapter {
	a := &FileAdapter{
		dir:      dir,
		pageSize: DefaultPageSize,
		loaded:   make(map[string][]model.Record),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FileAdapter) Sample(ctx context.Context, posType string) ([]model.Record, error) {
	records, err := a.load(ctx, posType)
	if err != nil {
		return nil, err
	}
	if len(records) > sampleSize {
		records = records[:sampleSize]
	}
	return records, nil
}

func (a *FileAdapter) Fields(ctx context.Context, posType string) ([]string, error) {
	records, err := a.load(ctx, posType)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var fields []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	return fields, nil
}

func (a *FileAdapter) Records(ctx context.Context, posType, cursor string) (*Page, error) {
	records, err := a.load(ctx, posType)
	if err != nil {
		return nil, err
	}
	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	return page(records, offset, a.pageSize), nil
}

func (a *FileAdapter) Stats(ctx context.Context, posType string) (model.DataStats, error) {
	records, err := a.load(ctx, posType)
	if err != nil {
		return model.DataStats{}, err
	}
	return deriveStats(records), nil
}

func (a *FileAdapter) load(ctx context.Context, posType string) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if records, ok := a.loaded[posType]; ok {
		return records, nil
	}

	jsonPath := filepath.Join(a.dir, posType+".json")
	if _, err := os.Stat(jsonPath); err == nil {
		records, err := readJSONExport(jsonPath)
		if err != nil {
			return nil, err
		}
		a.loaded[posType] = records
		return records, nil
	}

	xlsxPath := filepath.Join(a.dir, posType+".xlsx")
	if _, err := os.Stat(xlsxPath); err == nil {
		records, err := readXLSXExport(xlsxPath)
		if err != nil {
			return nil, err
		}
		a.loaded[posType] = records
		return records, nil
	}

	return nil, eris.Errorf("posadapter: no export found for %q in %s", posType, a.dir)
}

func readJSONExport(path string) ([]model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "posadapter: read export")
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		// Some vendors wrap the item list in an envelope.
		var envelope struct {
			Items []model.Record `json:"items"`
		}
		if err2 := json.Unmarshal(data, &envelope); err2 != nil || envelope.Items == nil {
			return nil, eris.Wrap(err, "posadapter: parse export")
		}
		records = envelope.Items
	}
	return records, nil
}

// readXLSXExport reads the first sheet, treating the first row as field
// names. Empty cells are omitted from the record rather than stored as
// empty strings, so completeness checks see them as missing.
func readXLSXExport(path string) ([]model.Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "posadapter: open xlsx export")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("posadapter: xlsx export has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.New("posadapter: xlsx export has no data rows")
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		header[i] = cell.String()
	}

	var records []model.Record
	for _, row := range sheet.Rows[1:] {
		rec := make(model.Record, len(header))
		for i, cell := range row.Cells {
			if i >= len(header) || header[i] == "" {
				continue
			}
			val := cell.String()
			if val == "" {
				continue
			}
			rec[header[i]] = val
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}
