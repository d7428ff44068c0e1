// Package validator inspects mapped POS data for pricing anomalies,
// missing fields, and duplicate records before anything is committed.
// The statistical passes are the baseline and run without AI; the AI
// pass only augments them with vendor-quirk findings.
package validator

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tablestack/posmigrate/internal/cost"
	"github.com/tablestack/posmigrate/internal/model"
	"github.com/tablestack/posmigrate/pkg/aiprovider"
)

// Options tunes the Validator.
type Options struct {
	// StddevThreshold is how many standard deviations from the mean a
	// price may sit before it is flagged. Default: 3.
	StddevThreshold float64
	// Workers bounds the pool for chunked passes. Default: 4.
	Workers int
	// ChunkSize is how many items each worker takes at once. Default: 250.
	ChunkSize int
	// PriceFields are the paths tried, in order, to read an item's price.
	PriceFields []string
}

func (o Options) withDefaults() Options {
	if o.StddevThreshold <= 0 {
		o.StddevThreshold = 3
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 250
	}
	if len(o.PriceFields) == 0 {
		o.PriceFields = []string{"price", "itemPrice", "item_price", "amount", "unitPrice"}
	}
	return o
}

// Validator runs validation passes over normalized POS records.
type Validator struct {
	opts     Options
	provider aiprovider.Provider
	tracker  *cost.Tracker
	now      func() time.Time
}

// New creates a Validator. provider may be nil; the statistical passes
// never need it.
func New(provider aiprovider.Provider, tracker *cost.Tracker, opts Options) *Validator {
	return &Validator{
		opts:     opts.withDefaults(),
		provider: provider,
		tracker:  tracker,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (v *Validator) WithNow(now func() time.Time) *Validator {
	v.now = now
	return v
}

func (v *Validator) newReport(migrationID, kind string) *model.ValidationReport {
	return &model.ValidationReport{
		ID:          uuid.New().String(),
		MigrationID: migrationID,
		Kind:        kind,
		GeneratedAt: v.now().UTC(),
	}
}

// forEachChunk runs fn over item chunks on a bounded worker pool. fn
// receives the chunk's offset into items so results can be merged in
// input order.
func (v *Validator) forEachChunk(items []model.Record, fn func(offset int, chunk []model.Record) error) error {
	var g errgroup.Group
	g.SetLimit(v.opts.Workers)

	for start := 0; start < len(items); start += v.opts.ChunkSize {
		end := start + v.opts.ChunkSize
		if end > len(items) {
			end = len(items)
		}
		offset, chunk := start, items[start:end]
		g.Go(func() error {
			return fn(offset, chunk)
		})
	}
	return g.Wait()
}

// chunkCount returns how many chunks of size chunkSize cover n items.
func chunkCount(n, chunkSize int) int {
	return (n + chunkSize - 1) / chunkSize
}

// itemID returns a stable identifier for an item, falling back to its
// position when the record carries none.
func itemID(rec model.Record, index int) string {
	if id := rec.ID(); id != "" {
		return id
	}
	return "item[" + strconv.Itoa(index) + "]"
}
