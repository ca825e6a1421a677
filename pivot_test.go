package pivot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasureListUnmarshal(t *testing.T) {
	var single MeasureList
	require.NoError(t, json.Unmarshal([]byte(`"value"`), &single))
	assert.Equal(t, MeasureList{"value"}, single)

	var many MeasureList
	require.NoError(t, json.Unmarshal([]byte(`["qty","amount","qty",""]`), &many))
	assert.Equal(t, MeasureList{"qty", "amount"}, many)

	var empty MeasureList
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.Nil(t, empty)

	assert.Error(t, json.Unmarshal([]byte(`42`), &empty))
}

func TestRunPipeline(t *testing.T) {
	ds := Dataset{
		{"unit": "X", "type": "A", "price": 2.0, "qty": 5.0},
		{"unit": "X", "type": "B", "price": 4.0, "qty": 5.0},
		{"unit": "Y", "type": "A", "price": 1.0, "qty": 5.0},
	}

	r, err := Run(ds, Request{
		DatasetID: "ds",
		Rows:      []string{"unit"},
		Columns:   []string{"type"},
		Measures:  MeasureList{"revenue"},
		Filters:   map[string][]string{"unit": {"X", "Y"}},
		PreCalculations: []Calculation{{
			ResultField: "revenue",
			Operation:   "multiply",
			Inputs:      []Operand{{Field: "price"}, {Field: "qty"}},
		}},
		PostCalculations: []Calculation{{
			ResultKey: "share",
			Operation: "percentage",
			Inputs:    []Operand{{ColumnKey: `["A"]`}, {ColumnKey: `["B"]`}},
		}},
	})
	require.NoError(t, err)

	// Aggregator defaulted to sum over the pre-calculated measure.
	assert.Equal(t, "sum", r.Aggregator)
	assert.Equal(t, [][]*float64{
		{fp(10), fp(20), fp(50)},
		{fp(5), nil, nil},
	}, r.Values)
	require.Len(t, r.Calculations.Pre, 1)
	require.Len(t, r.Calculations.Post, 1)
}

func TestRunFiltersEverythingOut(t *testing.T) {
	_, err := Run(salesDataset(), Request{
		DatasetID: "ds",
		Measures:  MeasureList{"value"},
		Filters:   map[string][]string{"unit": {"Z"}},
	})
	require.Error(t, err)
	var perr *PivotError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "no data matches the applied filters")
}

func TestRunErrorClassification(t *testing.T) {
	// A calculation failure surfaces as *CalculationError and, through
	// unwrapping, also as *PivotError for callers with one target.
	_, err := Run(salesDataset(), Request{
		DatasetID: "ds",
		Measures:  MeasureList{"value"},
		PreCalculations: []Calculation{{
			ResultField: "x",
			Operation:   "add",
			Inputs:      []Operand{{Field: "ghost"}},
		}},
	})
	require.Error(t, err)

	var cerr *CalculationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StagePre, cerr.Stage)

	var perr *PivotError
	assert.ErrorAs(t, err, &perr)
}

func TestRunSummaryRequest(t *testing.T) {
	r, err := Run(salesDataset(), Request{
		DatasetID:  "ds",
		Measures:   MeasureList{"value"},
		Aggregator: "avg",
	})
	require.NoError(t, err)
	assert.True(t, r.IsSummary())
	require.NotNil(t, r.SummaryValue)
	assert.InDelta(t, 35.0/3.0, *r.SummaryValue, 1e-9)
}
