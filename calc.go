package pivot

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"
)

// Calculation is one declarative calculated-field spec. Pre-stage specs add
// a field to every raw dataset row before aggregation; post-stage specs add
// a column to the aggregated pivot table. StageBoth runs in both phases.
type Calculation struct {
	ResultField string             `json:"resultField,omitempty"`
	ResultKey   string             `json:"resultKey,omitempty"`
	ID          string             `json:"id,omitempty"`
	Name        string             `json:"name,omitempty"`
	Stage       Stage              `json:"stage,omitempty"`
	Operation   string             `json:"operation,omitempty"`
	Inputs      []Operand          `json:"inputs,omitempty"`
	Options     CalculationOptions `json:"options,omitempty"`
}

func stageMatches(stage, fallback, want Stage) bool {
	if stage == "" {
		stage = fallback
	}
	return stage == want || stage == StageBoth
}

// ApplyPreCalculations runs the pre/both calculations in order, each
// appending one derived field to every row of a copied dataset. Later
// calculations may reference fields produced by earlier ones. The input
// dataset is never mutated. The applied specs are returned for the result's
// audit trail.
func ApplyPreCalculations(ds Dataset, calcs []Calculation) (Dataset, []Calculation, error) {
	var relevant []Calculation
	for _, calc := range calcs {
		if stageMatches(calc.Stage, StagePre, StagePre) {
			relevant = append(relevant, calc)
		}
	}
	if len(relevant) == 0 {
		return ds, nil, nil
	}

	out := ds
	produced := make(map[string]bool)
	for _, calc := range relevant {
		if calc.ResultField == "" {
			return nil, nil, newCalcErrorf(StagePre, "resultField is required for pre-aggregation calculations")
		}
		if produced[calc.ResultField] {
			return nil, nil, newCalcErrorf(StagePre, "pre-aggregation result field %q is defined more than once", calc.ResultField)
		}
		series, err := evaluatePreCalculation(out, calc)
		if err != nil {
			return nil, nil, err
		}
		out = out.withField(calc.ResultField, series)
		produced[calc.ResultField] = true
	}
	return out, relevant, nil
}

func evaluatePreCalculation(ds Dataset, calc Calculation) ([]*float64, error) {
	if calc.Operation == "expression" {
		series, _, err := evaluateExpression(calc.Options.Expression, len(ds), StagePre, func(token string) ([]*float64, string, error) {
			values, err := resolvePreOperand(ds, Operand{Type: "column", Field: token})
			if err != nil {
				return nil, "", newCalcErrorf(StagePre, "column %q was not found in the expression", token)
			}
			return values, "", nil
		})
		if err != nil {
			return nil, err
		}
		return applyDecimals(series, calc.Options, StagePre)
	}

	series := make([][]*float64, 0, len(calc.Inputs))
	for _, operand := range calc.Inputs {
		resolved, err := resolvePreOperand(ds, operand)
		if err != nil {
			return nil, err
		}
		series = append(series, resolved)
	}
	return evaluateOperation(series, calc.Operation, calc.Options, StagePre)
}

// ApplyPostCalculations runs the post/both calculations against an
// aggregated result. Each applied spec inserts one new column immediately
// after the highest-positioned column it references (or at the end when it
// references none) and registers its key in the column ledger. Totals are
// then recomputed from the augmented table with the builder's totals rule.
//
// Application is all-or-nothing: the work happens on a deep copy and any
// error leaves the input result untouched. An empty calculation list
// returns the input result unchanged.
func ApplyPostCalculations(r *Result, calcs []Calculation) (*Result, error) {
	var relevant []Calculation
	for _, calc := range calcs {
		if stageMatches(calc.Stage, StagePost, StagePost) {
			relevant = append(relevant, calc)
		}
	}
	if len(relevant) == 0 {
		return r, nil
	}

	if r.IsSummary() {
		return nil, newCalcErrorf(StagePost, "cannot add calculated columns to a pivot result without a table")
	}

	out, err := r.clone()
	if err != nil {
		return nil, err
	}

	ledger := newColumnLedger(out.ColumnKeys)
	columnLevels := 1
	if len(out.ColumnHeaders) > 0 {
		columnLevels = len(out.ColumnHeaders[0])
	}

	for _, calc := range relevant {
		series, referenced, err := evaluatePostCalculation(out, ledger, calc)
		if err != nil {
			return nil, err
		}

		resultKey := calc.ResultKey
		if resultKey == "" {
			resultKey = calc.ID
		}
		if resultKey == "" {
			resultKey = fmt.Sprintf("calc::%d", len(ledger.keys))
		}
		if ledger.has(resultKey) {
			return nil, newCalcErrorf(StagePost, "post-aggregation result key %q is defined more than once", resultKey)
		}

		label := calc.Name
		if label == "" {
			label = resultKey
		}

		insertPos := len(ledger.keys)
		if len(referenced) > 0 {
			insertPos = 0
			for _, ref := range referenced {
				if pos, ok := ledger.position(ref); ok && pos+1 > insertPos {
					insertPos = pos + 1
				}
			}
		}

		out.insertColumn(insertPos, CalcKey(resultKey), calculatedHeader(label, columnLevels), series)
		ledger.insert(insertPos, CalcKey(resultKey))
	}

	if err := recomputeTotals(out); err != nil {
		return nil, err
	}
	out.Calculations.Post = append(out.Calculations.Post, relevant...)
	return out, nil
}

func evaluatePostCalculation(r *Result, ledger *columnLedger, calc Calculation) ([]*float64, []string, error) {
	if calc.Operation == "expression" {
		series, referenced, err := evaluateExpression(calc.Options.Expression, len(r.Values), StagePost, func(token string) ([]*float64, string, error) {
			return matchPostColumn(r, ledger, token)
		})
		if err != nil {
			return nil, nil, err
		}
		rounded, err := applyDecimals(series, calc.Options, StagePost)
		return rounded, referenced, err
	}

	series := make([][]*float64, 0, len(calc.Inputs))
	var referenced []string
	for _, operand := range calc.Inputs {
		resolved, err := resolvePostOperand(r, ledger, operand)
		if err != nil {
			return nil, nil, err
		}
		series = append(series, resolved)
		if operandType(operand) == "column" {
			referenced = append(referenced, operand.ColumnKey)
		}
	}
	result, err := evaluateOperation(series, calc.Operation, calc.Options, StagePost)
	return result, referenced, err
}

// matchPostColumn resolves an expression token against the aggregated
// table: first as a ledger key, then as a flattened header label.
func matchPostColumn(r *Result, ledger *columnLedger, token string) ([]*float64, string, error) {
	if pos, ok := ledger.position(token); ok {
		return columnSeries(r, pos), ledger.keys[pos].String(), nil
	}
	for pos, key := range ledger.keys {
		if pos < len(r.ColumnHeaders) && flattenHeader(r.ColumnHeaders[pos]) == token {
			return columnSeries(r, pos), key.String(), nil
		}
	}
	return nil, "", newCalcErrorf(StagePost, "column %q was not found for the expression", token)
}

func columnSeries(r *Result, pos int) []*float64 {
	series := make([]*float64, len(r.Values))
	for i := range r.Values {
		series[i] = r.Values[i][pos]
	}
	return series
}

// calculatedHeader builds the header tuple for a calculated column. Under a
// multi-tier column axis the label lands on the innermost tier.
func calculatedHeader(label string, levels int) []any {
	if levels <= 1 {
		return []any{label}
	}
	header := make([]any, levels)
	for i := range header {
		header[i] = "Calculated"
	}
	header[levels-1] = label
	return header
}

// insertColumn splices a new column into the matrix and the bookkeeping
// slices at the given position.
func (r *Result) insertColumn(pos int, key ColumnKey, header []any, series []*float64) {
	r.ColumnKeys = insertKey(r.ColumnKeys, pos, key)
	r.ColumnHeaders = insertHeader(r.ColumnHeaders, pos, header)
	for i := range r.Values {
		r.Values[i] = insertCell(r.Values[i], pos, at(series, i))
	}
	r.colMembers = insertMembers(r.colMembers, pos, nil)
	r.colMeasure = insertString(r.colMeasure, pos, "")
}

func insertKey(items []ColumnKey, pos int, item ColumnKey) []ColumnKey {
	items = append(items, ColumnKey{})
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

func insertHeader(items [][]any, pos int, item []any) [][]any {
	items = append(items, nil)
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

func insertCell(items []*float64, pos int, item *float64) []*float64 {
	items = append(items, nil)
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

func insertMembers(items [][]int, pos int, item []int) [][]int {
	items = append(items, nil)
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

func insertString(items []string, pos int, item string) []string {
	items = append(items, "")
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

// clone deep-copies the exported surface of a result and carries over the
// group membership, which is immutable after the build.
func (r *Result) clone() (*Result, error) {
	out := &Result{}
	if err := deepcopy.Copy(out, r); err != nil {
		return nil, fmt.Errorf("copying pivot result: %w", err)
	}
	out.source = r.source
	out.rowMembers = append([][]int(nil), r.rowMembers...)
	out.colMembers = append([][]int(nil), r.colMembers...)
	out.rowMeasure = append([]string(nil), r.rowMeasure...)
	out.colMeasure = append([]string(nil), r.colMeasure...)
	return out, nil
}
