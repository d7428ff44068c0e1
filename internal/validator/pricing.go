package validator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/model"
)

// itemPrice is one item's extracted price. Found is false when none of
// the configured price paths resolved to a number.
type itemPrice struct {
	index int
	id    string
	price float64
	found bool
}

// ValidatePricing runs the statistical pricing pass over items and, when
// an AI provider is configured, augments the report with vendor-quirk
// findings. The statistical pass always runs; AI failures only log.
func (v *Validator) ValidatePricing(ctx context.Context, migrationID, tenantID string, items []model.Record, posType string) (*model.ValidationReport, error) {
	report := v.newReport(migrationID, "pricing")

	prices, err := v.extractPrices(items)
	if err != nil {
		return nil, err
	}

	var missing []string
	var positive []itemPrice
	for _, p := range prices {
		if !p.found || p.price <= 0 {
			missing = append(missing, p.id)
			continue
		}
		positive = append(positive, p)
	}

	if len(missing) > 0 {
		report.Anomalies = append(report.Anomalies, model.ValidationAnomaly{
			Type:            model.AnomalyMissingPrice,
			Severity:        model.SeverityHigh,
			AffectedItems:   missing,
			Description:     fmt.Sprintf("%d item(s) have a zero, negative, or missing price", len(missing)),
			SuggestedAction: "fill in prices in the source system and re-export",
		})
	}

	mean, stddev := priceStats(positive)
	if stddev > 0 {
		var high, low []string
		for _, p := range positive {
			switch {
			case p.price > mean+v.opts.StddevThreshold*stddev:
				high = append(high, p.id)
			case p.price < mean-v.opts.StddevThreshold*stddev:
				low = append(low, p.id)
			}
		}
		if len(high) > 0 {
			report.Anomalies = append(report.Anomalies, model.ValidationAnomaly{
				Type:          model.AnomalyHighPrice,
				Severity:      model.SeverityMedium,
				AffectedItems: high,
				Description: fmt.Sprintf("%d item(s) priced more than %.0f standard deviations above the mean of %.2f",
					len(high), v.opts.StddevThreshold, mean),
				SuggestedAction: "confirm these are intentional premium items",
			})
		}
		if len(low) > 0 {
			report.Anomalies = append(report.Anomalies, model.ValidationAnomaly{
				Type:          model.AnomalyLowPrice,
				Severity:      model.SeverityMedium,
				AffectedItems: low,
				Description: fmt.Sprintf("%d item(s) priced more than %.0f standard deviations below the mean of %.2f",
					len(low), v.opts.StddevThreshold, mean),
				SuggestedAction: "check for misplaced decimal points",
			})
		}
	}

	if v.provider != nil {
		anomalies, err := v.aiPricingPass(ctx, migrationID, tenantID, items, posType, mean)
		if err != nil {
			zap.L().Warn("validator: AI pricing pass failed, keeping statistical findings",
				zap.String("migration_id", migrationID),
				zap.String("pos_type", posType),
				zap.Error(err),
			)
		} else {
			report.Anomalies = append(report.Anomalies, anomalies...)
		}
	}

	report.Finalize()
	return report, nil
}

// extractPrices reads every item's price on the worker pool, preserving
// input order in the result.
func (v *Validator) extractPrices(items []model.Record) ([]itemPrice, error) {
	out := make([]itemPrice, len(items))
	var mu sync.Mutex

	err := v.forEachChunk(items, func(offset int, chunk []model.Record) error {
		local := make([]itemPrice, len(chunk))
		for i, rec := range chunk {
			idx := offset + i
			p := itemPrice{index: idx, id: itemID(rec, idx)}
			for _, field := range v.opts.PriceFields {
				if f, ok := rec.GetFloat(field); ok {
					p.price, p.found = f, true
					break
				}
			}
			local[i] = p
		}
		mu.Lock()
		copy(out[offset:], local)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

// priceStats returns mean and population standard deviation of the
// given prices. Both are zero when fewer than two prices exist.
func priceStats(prices []itemPrice) (mean, stddev float64) {
	if len(prices) < 2 {
		if len(prices) == 1 {
			return prices[0].price, 0
		}
		return 0, 0
	}

	sum := 0.0
	for _, p := range prices {
		sum += p.price
	}
	mean = sum / float64(len(prices))

	variance := 0.0
	for _, p := range prices {
		d := p.price - mean
		variance += d * d
	}
	variance /= float64(len(prices))
	return mean, math.Sqrt(variance)
}
