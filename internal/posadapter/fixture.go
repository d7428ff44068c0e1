package posadapter

import (
	"context"

	"github.com/tablestack/posmigrate/internal/model"
)

// Fixture is a canned Adapter for tests and dry runs.
type Fixture struct {
	records  map[string][]model.Record
	pageSize int
	err      error
}

// NewFixture creates a Fixture serving the given records per posType.
func NewFixture(records map[string][]model.Record) *Fixture {
	return &Fixture{records: records, pageSize: DefaultPageSize}
}

// WithFixturePageSize overrides the page size, letting tests force
// multi-page imports with small datasets.
func (f *Fixture) WithFixturePageSize(n int) *Fixture {
	f.pageSize = n
	return f
}

// FailWith makes every operation return err.
func (f *Fixture) FailWith(err error) *Fixture {
	f.err = err
	return f
}

func (f *Fixture) Sample(_ context.Context, posType string) ([]model.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	records := f.records[posType]
	if len(records) > sampleSize {
		records = records[:sampleSize]
	}
	return records, nil
}

func (f *Fixture) Fields(_ context.Context, posType string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	seen := make(map[string]bool)
	var fields []string
	for _, rec := range f.records[posType] {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	return fields, nil
}

func (f *Fixture) Records(_ context.Context, posType, cursor string) (*Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	return page(f.records[posType], offset, f.pageSize), nil
}

func (f *Fixture) Stats(_ context.Context, posType string) (model.DataStats, error) {
	if f.err != nil {
		return model.DataStats{}, f.err
	}
	return deriveStats(f.records[posType]), nil
}
