package posadapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/tablestack/posmigrate/internal/model"
)

func writeJSONExport(t *testing.T, dir, posType, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, posType+".json"), []byte(content), 0o644))
}

func TestFileAdapter_JSONArray(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "square", `[
		{"itemName": "Latte", "itemPrice": 4.50, "categoryName": "Drinks"},
		{"itemName": "Mocha", "itemPrice": 5.00, "categoryName": "Drinks"}
	]`)

	a := NewFileAdapter(dir)
	sample, err := a.Sample(context.Background(), "square")
	require.NoError(t, err)
	require.Len(t, sample, 2)
	assert.Equal(t, "Latte", sample[0].GetString("itemName"))
}

func TestFileAdapter_JSONEnvelope(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "toast", `{"items": [{"name": "Burger", "price": 12.0}]}`)

	a := NewFileAdapter(dir)
	sample, err := a.Sample(context.Background(), "toast")
	require.NoError(t, err)
	require.Len(t, sample, 1)
	assert.Equal(t, "Burger", sample[0].GetString("name"))
}

func TestFileAdapter_XLSX(t *testing.T) {
	dir := t.TempDir()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Menu")
	require.NoError(t, err)
	for _, rowVals := range [][]string{
		{"itemName", "itemPrice", "categoryName"},
		{"Latte", "4.50", "Drinks"},
		{"Croissant", "", "Bakery"},
	} {
		row := sheet.AddRow()
		for _, v := range rowVals {
			row.AddCell().Value = v
		}
	}
	require.NoError(t, f.Save(filepath.Join(dir, "legacy.xlsx")))

	a := NewFileAdapter(dir)
	records, err := a.Sample(context.Background(), "legacy")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Latte", records[0].GetString("itemName"))
	price, ok := records[0].GetFloat("itemPrice")
	assert.True(t, ok)
	assert.Equal(t, 4.50, price)

	// empty price cell is absent, not an empty string
	_, ok = records[1].Get("itemPrice")
	assert.False(t, ok)
}

func TestFileAdapter_MissingExport(t *testing.T) {
	a := NewFileAdapter(t.TempDir())
	_, err := a.Sample(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestFileAdapter_RecordsPagination(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "square", `[
		{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}, {"id": "5"}
	]`)

	a := NewFileAdapter(dir, WithPageSize(2))

	var ids []string
	cursor := ""
	pages := 0
	for {
		p, err := a.Records(context.Background(), "square", cursor)
		require.NoError(t, err)
		pages++
		assert.Equal(t, 5, p.Total)
		for _, rec := range p.Records {
			ids = append(ids, rec.ID())
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
}

func TestFileAdapter_RecordsRestartableFromCursor(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "square", `[{"id": "1"}, {"id": "2"}, {"id": "3"}]`)

	a := NewFileAdapter(dir, WithPageSize(1))
	p1, err := a.Records(context.Background(), "square", "")
	require.NoError(t, err)

	// restart from the same cursor yields the same page
	p2a, err := a.Records(context.Background(), "square", p1.NextCursor)
	require.NoError(t, err)
	p2b, err := a.Records(context.Background(), "square", p1.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, p2a.Records, p2b.Records)
}

func TestFileAdapter_InvalidCursor(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "square", `[{"id": "1"}]`)

	a := NewFileAdapter(dir)
	_, err := a.Records(context.Background(), "square", "not-a-number")
	assert.Error(t, err)
}

func TestFileAdapter_Fields(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "square", `[
		{"itemName": "Latte", "itemPrice": 4.5},
		{"itemName": "Mocha", "sku": "M-1"}
	]`)

	a := NewFileAdapter(dir)
	fields, err := a.Fields(context.Background(), "square")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"itemName", "itemPrice", "sku"}, fields)
}

func TestFileAdapter_Stats(t *testing.T) {
	dir := t.TempDir()
	writeJSONExport(t, dir, "square", `[
		{"itemName": "Latte", "categoryName": "Drinks", "modifiers": [{"name": "oat milk"}, {"name": "decaf"}]},
		{"itemName": "Burger", "categoryName": "Food", "customFields": {"spicy": true}},
		{"itemName": "Mocha", "categoryName": "Drinks"}
	]`)

	a := NewFileAdapter(dir)
	stats, err := a.Stats(context.Background(), "square")
	require.NoError(t, err)

	assert.Equal(t, model.DataStats{
		Items:           3,
		Categories:      2,
		Modifiers:       2,
		HasCustomFields: true,
	}, stats)
}
