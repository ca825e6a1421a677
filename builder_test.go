package pivot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func salesDataset() Dataset {
	return Dataset{
		{"unit": "X", "type": "A", "value": 10.0},
		{"unit": "X", "type": "B", "value": 20.0},
		{"unit": "Y", "type": "A", "value": 5.0},
	}
}

func TestBuildGrid(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Rows:       []string{"unit"},
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]any{{"X"}, {"Y"}}, r.RowHeaders)
	assert.Equal(t, [][]any{{"A"}, {"B"}}, r.ColumnHeaders)
	assert.Equal(t, []ColumnKey{DimensionKey("A"), DimensionKey("B")}, r.ColumnKeys)
	assert.Equal(t, [][]*float64{
		{fp(10), fp(20)},
		{fp(5), nil},
	}, r.Values)
	assert.Equal(t, []*float64{fp(30), fp(5)}, r.RowTotals)
	assert.Equal(t, []*float64{fp(15), fp(20)}, r.ColumnTotals)
	require.NotNil(t, r.GrandTotal)
	assert.Equal(t, 35.0, *r.GrandTotal)
	assert.Equal(t, FormatNumber, r.ValueFormat)
	assert.False(t, r.IsSummary())
}

func TestBuildSummary(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	assert.True(t, r.IsSummary())
	require.NotNil(t, r.SummaryValues["value"])
	assert.Equal(t, 35.0, *r.SummaryValues["value"])
	assert.Equal(t, r.SummaryValue, r.GrandTotal)
	assert.Empty(t, r.Values)
}

func TestBuildAvgTotalsFromUnderlyingRows(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Rows:       []string{"unit"},
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "avg",
	})
	require.NoError(t, err)

	// avg(10, 20) for row X, never the average of the cell averages.
	require.NotNil(t, r.RowTotals[0])
	assert.Equal(t, 15.0, *r.RowTotals[0])
	require.NotNil(t, r.RowTotals[1])
	assert.Equal(t, 5.0, *r.RowTotals[1])
	require.NotNil(t, r.ColumnTotals[0])
	assert.Equal(t, 7.5, *r.ColumnTotals[0])
	require.NotNil(t, r.GrandTotal)
	assert.InDelta(t, 35.0/3.0, *r.GrandTotal, 1e-9)
}

func TestBuildMinMaxTotals(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Rows:       []string{"unit"},
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "max",
	})
	require.NoError(t, err)

	assert.Equal(t, []*float64{fp(20), fp(5)}, r.RowTotals)
	assert.Equal(t, []*float64{fp(10), fp(20)}, r.ColumnTotals)
	require.NotNil(t, r.GrandTotal)
	assert.Equal(t, 20.0, *r.GrandTotal)
}

func TestBuildRowsOnly(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Rows:       []string{"unit"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]any{{"X"}, {"Y"}}, r.RowHeaders)
	assert.Equal(t, [][]any{{"value"}}, r.ColumnHeaders)
	assert.Equal(t, [][]*float64{{fp(30)}, {fp(5)}}, r.Values)
	assert.Equal(t, []*float64{fp(35)}, r.ColumnTotals)
}

func TestBuildColumnsOnly(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Columns:    []string{"type"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]any{{"value"}}, r.RowHeaders)
	assert.Equal(t, [][]any{{"A"}, {"B"}}, r.ColumnHeaders)
	assert.Equal(t, [][]*float64{{fp(15), fp(20)}}, r.Values)
	assert.Equal(t, []*float64{fp(35)}, r.RowTotals)
}

func TestBuildMultiMeasureTiers(t *testing.T) {
	ds := Dataset{
		{"unit": "X", "type": "A", "qty": 1.0, "amount": 10.0},
		{"unit": "X", "type": "B", "qty": 2.0, "amount": 20.0},
	}
	r, err := Build("ds", ds, Spec{
		Rows:       []string{"unit"},
		Columns:    []string{"type"},
		Measures:   []string{"qty", "amount"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	// The measure name leads each column tuple and the tiers sort with it.
	assert.Equal(t, [][]any{
		{"amount", "A"}, {"amount", "B"},
		{"qty", "A"}, {"qty", "B"},
	}, r.ColumnHeaders)
	assert.Equal(t, [][]*float64{{fp(10), fp(20), fp(1), fp(2)}}, r.Values)
	assert.Equal(t, []*float64{fp(33)}, r.RowTotals)
}

func TestBuildNullDimensionGroupsFirst(t *testing.T) {
	ds := Dataset{
		{"unit": "X", "value": 1.0},
		{"unit": nil, "value": 2.0},
		{"unit": "item10", "value": 3.0},
		{"unit": "item2", "value": 4.0},
	}
	r, err := Build("ds", ds, Spec{
		Rows:       []string{"unit"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)

	// Nulls first, then numeric-aware text order: item2 before item10.
	assert.Equal(t, [][]any{{nil}, {"item2"}, {"item10"}, {"X"}}, r.RowHeaders)
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name string
		ds   Dataset
		spec Spec
		want string
	}{
		{
			name: "no measures",
			ds:   salesDataset(),
			spec: Spec{Aggregator: "sum"},
			want: "at least one numeric measure is required",
		},
		{
			name: "unknown measure",
			ds:   salesDataset(),
			spec: Spec{Measures: []string{"ghost"}, Aggregator: "sum"},
			want: `column "ghost" not found`,
		},
		{
			name: "unknown aggregator",
			ds:   salesDataset(),
			spec: Spec{Measures: []string{"value"}, Aggregator: "median"},
			want: `aggregator "median" is not supported`,
		},
		{
			name: "empty dataset",
			ds:   Dataset{},
			spec: Spec{Measures: []string{"value"}, Aggregator: "sum"},
			want: "no rows to aggregate",
		},
		{
			name: "non numeric measure",
			ds:   salesDataset(),
			spec: Spec{Measures: []string{"unit"}, Aggregator: "avg"},
			want: `measure "unit" is not numeric`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build("ds", tc.ds, tc.spec)
			require.Error(t, err)
			var perr *PivotError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuildCountAcceptsTextMeasure(t *testing.T) {
	r, err := Build("ds", salesDataset(), Spec{
		Rows:       []string{"type"},
		Measures:   []string{"unit"},
		Aggregator: "count",
	})
	require.NoError(t, err)
	assert.Equal(t, [][]*float64{{fp(2)}, {fp(1)}}, r.Values)
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	ds := salesDataset()
	_, err := Build("ds", ds, Spec{
		Rows:       []string{"unit"},
		Measures:   []string{"value"},
		Aggregator: "sum",
	})
	require.NoError(t, err)
	assert.Equal(t, salesDataset(), ds)
}
