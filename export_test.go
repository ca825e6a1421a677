package pivot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportGrid(t *testing.T) {
	r := buildSalesGrid(t)
	table := Export(r)

	assert.Equal(t, []string{"unit", "A", "B", "Total"}, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []string{"X", "10", "20", "30"}, table.Rows[0])
	assert.Equal(t, []string{"Y", "5", "", "5"}, table.Rows[1])
	assert.Equal(t, []string{"Total", "15", "20", "35"}, table.Rows[2])
}

func TestExportSummary(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{Measures: []string{"value"}, Aggregator: "sum"})
	require.NoError(t, err)

	table := Export(r)
	assert.Equal(t, []string{"value"}, table.Headers)
	assert.Equal(t, [][]string{{"35"}}, table.Rows)
}

func TestExportColumnsOnlyUsesMeasureLabel(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	table := Export(r)
	assert.Equal(t, []string{"Measure", "A", "B", "Total"}, table.Headers)
	assert.Equal(t, []string{"value", "15", "20", "35"}, table.Rows[0])
}

func TestExportCurrencyFormat(t *testing.T) {
	r, err := Build("ds", Dataset{
		{"unit": "X", "value": 1234.5},
		{"unit": "Y", "value": 2.0},
	}, Spec{
		Rows:       []string{"unit"},
		Measures:   []string{"value"},
		Aggregator: "money_sum",
	})
	require.NoError(t, err)

	table := Export(r)
	assert.Equal(t, "$1,234.50", table.Rows[0][1])
	assert.Equal(t, "$2.00", table.Rows[1][1])
}

func TestWriteCSV(t *testing.T) {
	r := buildSalesGrid(t)
	var buf bytes.Buffer
	require.NoError(t, Export(r).WriteCSV(&buf))

	want := "unit,A,B,Total\n" +
		"X,10,20,30\n" +
		"Y,5,,5\n" +
		"Total,15,20,35\n"
	assert.Equal(t, want, buf.String())
}
