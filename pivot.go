// Package pivot implements a tabular pivot/aggregation engine with
// calculated-field support. Given a flat in-memory dataset and a
// declarative specification (grouping dimensions for both axes, measures,
// an aggregator, and optional derived-field formulas) it produces a
// cross-tabulated result with row, column and grand totals, and lets
// callers layer computed columns on top of either the raw rows
// (pre-aggregation) or the aggregated cells (post-aggregation), including a
// small placeholder-based formula language.
//
// The engine is a pure, synchronous computation pipeline: it knows nothing
// about HTTP, files or UI, never mutates its input dataset, and holds no
// state between calls. Each invocation is independently safe to run
// concurrently with any other.
package pivot

import "encoding/json"

// MeasureList accepts either a single measure name or a list of names in
// request JSON. Duplicates are removed, order preserved.
type MeasureList []string

// UnmarshalJSON implements the string-or-list contract.
func (m *MeasureList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*m = nil
			return nil
		}
		*m = MeasureList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*m = MeasureList(normalizeMeasures(many))
	return nil
}

// Request is the JSON-shaped pivot request callers submit: the dataset
// handle, the pivot spec, optional equality filters, and the calculation
// specs for both stages.
type Request struct {
	DatasetID        string              `json:"datasetId"`
	Rows             []string            `json:"rows"`
	Columns          []string            `json:"columns"`
	Measures         MeasureList         `json:"measures"`
	Aggregator       string              `json:"aggregator"`
	Filters          map[string][]string `json:"filters,omitempty"`
	PreCalculations  []Calculation       `json:"preCalculations,omitempty"`
	PostCalculations []Calculation       `json:"postCalculations,omitempty"`
}

// Run executes the full pipeline against a dataset: filters, then
// pre-aggregation calculations, then the pivot build, then
// post-aggregation calculations. The aggregator defaults to "sum". The
// result records which calculation specs were applied.
//
// Any failure is terminal for the request and reported as a *PivotError or
// *CalculationError with no partial result.
func Run(ds Dataset, req Request) (*Result, error) {
	aggregator := req.Aggregator
	if aggregator == "" {
		aggregator = "sum"
	}

	filtered := ds.Filter(req.Filters)
	if len(filtered) == 0 && len(ds) > 0 {
		return nil, newPivotErrorf("no data matches the applied filters")
	}

	prepared, applied, err := ApplyPreCalculations(filtered, req.PreCalculations)
	if err != nil {
		return nil, err
	}

	result, err := Build(req.DatasetID, prepared, Spec{
		Rows:       req.Rows,
		Columns:    req.Columns,
		Measures:   []string(req.Measures),
		Aggregator: aggregator,
	})
	if err != nil {
		return nil, err
	}
	result.Calculations.Pre = append(result.Calculations.Pre, applied...)

	return ApplyPostCalculations(result, req.PostCalculations)
}
