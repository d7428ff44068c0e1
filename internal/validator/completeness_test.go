package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestack/posmigrate/internal/model"
)

func TestCheckCompleteness_FlagsMissingRequiredFields(t *testing.T) {
	v := New(nil, nil, Options{})
	recs := []model.Record{
		{"id": "1", "name": "Latte", "price": 4.50},
		{"id": "2", "price": 5.00},
		{"id": "3", "name": "", "price": 3.25},
	}

	report, err := v.CheckCompleteness("mig-1", recs, []string{"name", "price"})
	require.NoError(t, err)

	require.Len(t, report.Anomalies, 1)
	a := report.Anomalies[0]
	assert.Equal(t, model.AnomalyMissingField, a.Type)
	assert.Equal(t, model.SeverityHigh, a.Severity)
	assert.Equal(t, []string{"2", "3"}, a.AffectedItems)
	assert.Contains(t, a.Description, `"name"`)
}

func TestCheckCompleteness_OneAnomalyPerField(t *testing.T) {
	v := New(nil, nil, Options{})
	recs := []model.Record{{"id": "1"}}

	report, err := v.CheckCompleteness("mig-1", recs, []string{"name", "price", "category"})
	require.NoError(t, err)
	assert.Len(t, report.Anomalies, 3)
}

func TestCheckCompleteness_NestedPaths(t *testing.T) {
	v := New(nil, nil, Options{})
	recs := []model.Record{
		{"id": "1", "pricing": map[string]any{"base": 4.5}},
		{"id": "2", "pricing": map[string]any{}},
	}

	report, err := v.CheckCompleteness("mig-1", recs, []string{"pricing.base"})
	require.NoError(t, err)

	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, []string{"2"}, report.Anomalies[0].AffectedItems)
}

func TestCheckCompleteness_CompleteDataIsClean(t *testing.T) {
	v := New(nil, nil, Options{})
	recs := []model.Record{{"id": "1", "name": "Latte", "price": 4.50}}

	report, err := v.CheckCompleteness("mig-1", recs, []string{"name", "price"})
	require.NoError(t, err)
	assert.Empty(t, report.Anomalies)
	assert.False(t, report.Summary.RequiresManualReview)
}

func TestCheckCompleteness_OrderedAcrossChunks(t *testing.T) {
	v := New(nil, nil, Options{ChunkSize: 2, Workers: 4})

	recs := make([]model.Record, 0, 10)
	for i := 0; i < 10; i++ {
		rec := model.Record{"id": "itm"}
		if i%2 == 0 {
			rec["name"] = "present"
		}
		recs = append(recs, rec)
	}

	report, err := v.CheckCompleteness("mig-1", recs, []string{"name"})
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Len(t, report.Anomalies[0].AffectedItems, 5)
}
