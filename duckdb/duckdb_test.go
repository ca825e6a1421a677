package duckdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivotlabs/pivot"
)

// newTestEngine skips the test when the duckdb driver cannot open a
// database in this environment.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func salesDataset() pivot.Dataset {
	return pivot.Dataset{
		{"unit": "X", "type": "A", "value": 10.0},
		{"unit": "X", "type": "B", "value": 20.0},
		{"unit": "Y", "type": "A", "value": 5.0},
	}
}

func cell(v float64) *float64 { return &v }

func TestBuildPivotGrid(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.LoadDataset("sales", salesDataset()))

	r, err := e.BuildPivot("sales", pivot.Spec{
		Rows:       []string{"unit"},
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]any{{"X"}, {"Y"}}, r.RowHeaders)
	assert.Equal(t, [][]any{{"A"}, {"B"}}, r.ColumnHeaders)
	assert.Equal(t, [][]*float64{
		{cell(10), cell(20)},
		{cell(5), nil},
	}, r.Values)
	assert.Equal(t, []*float64{cell(30), cell(5)}, r.RowTotals)
	assert.Equal(t, []*float64{cell(15), cell(20)}, r.ColumnTotals)
	require.NotNil(t, r.GrandTotal)
	assert.Equal(t, 35.0, *r.GrandTotal)
	assert.Equal(t, pivot.FormatNumber, r.ValueFormat)
}

func TestBuildPivotSummary(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.LoadDataset("sales", salesDataset()))

	r, err := e.BuildPivot("sales", pivot.Spec{
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	assert.True(t, r.IsSummary())
	require.NotNil(t, r.SummaryValues["value"])
	assert.Equal(t, 35.0, *r.SummaryValues["value"])
	assert.Equal(t, r.SummaryValue, r.GrandTotal)
}

func TestBuildPivotAvgTotalsFromRows(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.LoadDataset("sales", salesDataset()))

	r, err := e.BuildPivot("sales", pivot.Spec{
		Rows:       []string{"unit"},
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "avg",
	})
	require.NoError(t, err)

	// Row X covers two raw rows: avg(10, 20) = 15, not avg of the
	// per-cell averages.
	require.NotNil(t, r.RowTotals[0])
	assert.Equal(t, 15.0, *r.RowTotals[0])
	require.NotNil(t, r.GrandTotal)
	assert.InDelta(t, 35.0/3.0, *r.GrandTotal, 1e-9)
}

func TestBuildPivotRowsOnly(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.LoadDataset("sales", salesDataset()))

	r, err := e.BuildPivot("sales", pivot.Spec{
		Rows:       []string{"unit"},
		Measures:   []string{"value"},
		Aggregator: "count",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]any{{"value"}}, r.ColumnHeaders)
	assert.Equal(t, [][]*float64{{cell(2)}, {cell(1)}}, r.Values)
	assert.Equal(t, []*float64{cell(3)}, r.ColumnTotals)
}

func TestBuildPivotErrors(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.LoadDataset("sales", salesDataset()))

	var perr *pivot.PivotError

	_, err := e.BuildPivot("missing", pivot.Spec{Measures: []string{"value"}, Aggregator: "sum"})
	require.True(t, errors.As(err, &perr))

	_, err = e.BuildPivot("sales", pivot.Spec{Measures: []string{"ghost"}, Aggregator: "sum"})
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "ghost")

	_, err = e.BuildPivot("sales", pivot.Spec{Measures: []string{"value"}, Aggregator: "median"})
	require.True(t, errors.As(err, &perr))

	_, err = e.BuildPivot("sales", pivot.Spec{Measures: []string{"unit"}, Aggregator: "avg"})
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "not numeric")
}

func TestSanitizeIdent(t *testing.T) {
	assert.Equal(t, "net_sales_usd", sanitizeIdent("Net Sales (USD)"))
	assert.Equal(t, "", sanitizeIdent("$$$"))
}
