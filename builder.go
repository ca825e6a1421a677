package pivot

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Spec is the declarative description of a pivot: grouping dimensions on
// both axes, the measures to aggregate, and the aggregator identifier.
type Spec struct {
	Rows       []string `json:"rows"`
	Columns    []string `json:"columns"`
	Measures   []string `json:"measures"`
	Aggregator string   `json:"aggregator"`
}

// CalculationTrail records which calculation specs were applied to a result.
type CalculationTrail struct {
	Pre  []Calculation `json:"pre"`
	Post []Calculation `json:"post"`
}

// Result is a cross-tabulated pivot. When neither rows nor columns were
// requested it degenerates to one scalar per measure in SummaryValues and
// the matrix stays empty.
type Result struct {
	DatasetID     string              `json:"datasetId"`
	Rows          []string            `json:"rows"`
	Columns       []string            `json:"columns"`
	Measures      []string            `json:"measures"`
	Aggregator    string              `json:"aggregator"`
	RowHeaders    [][]any             `json:"rowHeaders"`
	ColumnHeaders [][]any             `json:"columnHeaders"`
	ColumnKeys    []ColumnKey         `json:"columnKeys"`
	Values        [][]*float64        `json:"values"`
	RowTotals     []*float64          `json:"rowTotals"`
	ColumnTotals  []*float64          `json:"columnTotals"`
	GrandTotal    *float64            `json:"grandTotal"`
	SummaryValue  *float64            `json:"summaryValue"`
	SummaryValues map[string]*float64 `json:"summaryValues,omitempty"`
	Calculations  CalculationTrail    `json:"calculations"`
	ValueFormat   string              `json:"valueFormat"`

	// Group membership kept for total re-derivation. For avg/min/max the
	// row, column and grand totals re-aggregate the underlying dataset rows
	// rather than reducing already-aggregated cells.
	source     Dataset
	rowMembers [][]int  // dataset row indices per pivot row
	colMembers [][]int  // dataset row indices per column, nil for calculated columns
	rowMeasure []string // measure bound to a pivot row (columns-only layout), "" = all
	colMeasure []string // measure bound to a column, "" = all measures
}

// IsSummary reports whether the result is the degenerate scalar-per-measure
// summary produced when neither rows nor columns were requested.
func (r *Result) IsSummary() bool { return r.SummaryValues != nil }

// group is one partition of the dataset under a dimension tuple.
type group struct {
	tuple   []any
	members []int
}

// Build groups the dataset by the spec's row and column dimension tuples,
// aggregates every measure per cell with the requested aggregator and
// computes row, column and grand totals. Group ordering is deterministic:
// numeric keys sort numerically, text keys through a numeric-aware collator,
// nulls first.
//
// Totals for sum/count-family aggregators equal the null-safe sum of the
// row's or column's cells; for avg, min and max they are re-derived from the
// underlying dataset rows of each group so they stay semantically correct.
func Build(datasetID string, ds Dataset, spec Spec) (*Result, error) {
	measures := normalizeMeasures(spec.Measures)
	if len(measures) == 0 {
		return nil, newPivotErrorf("at least one numeric measure is required")
	}

	// Checked before the schema lookup: an empty dataset has an empty
	// schema and would misreport every measure as unknown.
	if len(ds) == 0 {
		return nil, newPivotErrorf("the dataset has no rows to aggregate")
	}

	schema := make(map[string]bool)
	for _, field := range ds.Schema() {
		schema[field] = true
	}
	for _, measure := range measures {
		if !schema[measure] {
			return nil, newPivotErrorf("column %q not found in the loaded dataset", measure)
		}
	}

	agg, err := resolveAggregation(spec.Aggregator)
	if err != nil {
		return nil, err
	}

	if numericReducing(spec.Aggregator) {
		for _, measure := range measures {
			if err := ensureNumericMeasure(ds, measure); err != nil {
				return nil, err
			}
		}
	}

	r := &Result{
		DatasetID:     datasetID,
		Rows:          append([]string(nil), spec.Rows...),
		Columns:       append([]string(nil), spec.Columns...),
		Measures:      measures,
		Aggregator:    spec.Aggregator,
		Calculations:  CalculationTrail{Pre: []Calculation{}, Post: []Calculation{}},
		ValueFormat:   agg.format,
		source:        ds,
	}

	if len(spec.Rows) == 0 && len(spec.Columns) == 0 {
		return buildSummary(r, ds, measures, agg), nil
	}

	cmp := newValueComparator()
	allRows := make([]int, len(ds))
	for i := range ds {
		allRows[i] = i
	}

	switch {
	case len(spec.Rows) > 0 && len(spec.Columns) > 0:
		buildGrid(r, ds, spec, measures, agg, cmp)
	case len(spec.Rows) > 0:
		buildRowsOnly(r, ds, spec, measures, agg, cmp, allRows)
	default:
		buildColumnsOnly(r, ds, spec, measures, agg, cmp, allRows)
	}

	if err := recomputeTotals(r); err != nil {
		return nil, err
	}
	return r, nil
}

func buildSummary(r *Result, ds Dataset, measures []string, agg aggregation) *Result {
	r.RowHeaders = [][]any{}
	r.ColumnHeaders = [][]any{}
	r.ColumnKeys = []ColumnKey{}
	r.Values = [][]*float64{}
	r.RowTotals = []*float64{}
	r.ColumnTotals = []*float64{}
	r.SummaryValues = make(map[string]*float64, len(measures))
	for _, measure := range measures {
		r.SummaryValues[measure] = agg.reduce(columnValues(ds, measure))
	}
	first := r.SummaryValues[measures[0]]
	r.SummaryValue = first
	r.GrandTotal = first
	return r
}

// buildGrid handles the full cross-product case: row dimensions by column
// dimensions, one column tier per measure when several are requested.
func buildGrid(r *Result, ds Dataset, spec Spec, measures []string, agg aggregation, cmp *valueComparator) {
	rowGroups := groupBy(ds, spec.Rows, cmp)
	colGroups := groupBy(ds, spec.Columns, cmp)

	type outColumn struct {
		header  []any
		measure string
		members []int
	}
	var columns []outColumn
	if len(measures) == 1 {
		for _, cg := range colGroups {
			columns = append(columns, outColumn{header: cg.tuple, measure: measures[0], members: cg.members})
		}
	} else {
		for _, measure := range measures {
			for _, cg := range colGroups {
				header := append([]any{measure}, cg.tuple...)
				columns = append(columns, outColumn{header: header, measure: measure, members: cg.members})
			}
		}
		sort.SliceStable(columns, func(i, j int) bool {
			return cmp.compareTuples(columns[i].header, columns[j].header) < 0
		})
	}

	rowOf := make([]int, len(ds))
	for gi, rg := range rowGroups {
		for _, idx := range rg.members {
			rowOf[idx] = gi
		}
	}

	r.Values = make([][]*float64, len(rowGroups))
	for i := range r.Values {
		r.Values[i] = make([]*float64, len(columns))
	}

	for j, col := range columns {
		buckets := make([][]any, len(rowGroups))
		for _, idx := range col.members {
			gi := rowOf[idx]
			buckets[gi] = append(buckets[gi], ds[idx][col.measure])
		}
		for i, bucket := range buckets {
			if len(bucket) > 0 {
				r.Values[i][j] = agg.reduce(bucket)
			}
		}
	}

	for _, rg := range rowGroups {
		r.RowHeaders = append(r.RowHeaders, rg.tuple)
		r.rowMembers = append(r.rowMembers, rg.members)
		r.rowMeasure = append(r.rowMeasure, "")
	}
	for _, col := range columns {
		r.ColumnHeaders = append(r.ColumnHeaders, col.header)
		r.ColumnKeys = append(r.ColumnKeys, DimensionKey(col.header...))
		r.colMembers = append(r.colMembers, col.members)
		r.colMeasure = append(r.colMeasure, col.measure)
	}
}

// buildRowsOnly produces one column per measure, labeled by the measure
// name, columns ordered lexicographically.
func buildRowsOnly(r *Result, ds Dataset, spec Spec, measures []string, agg aggregation, cmp *valueComparator, allRows []int) {
	rowGroups := groupBy(ds, spec.Rows, cmp)

	ordered := append([]string(nil), measures...)
	sort.Strings(ordered)

	r.Values = make([][]*float64, len(rowGroups))
	for i, rg := range rowGroups {
		r.RowHeaders = append(r.RowHeaders, rg.tuple)
		r.rowMembers = append(r.rowMembers, rg.members)
		r.rowMeasure = append(r.rowMeasure, "")
		cells := make([]*float64, len(ordered))
		for j, measure := range ordered {
			cells[j] = agg.reduce(memberValues(ds, rg.members, measure))
		}
		r.Values[i] = cells
	}
	for _, measure := range ordered {
		r.ColumnHeaders = append(r.ColumnHeaders, []any{measure})
		r.ColumnKeys = append(r.ColumnKeys, DimensionKey(measure))
		r.colMembers = append(r.colMembers, allRows)
		r.colMeasure = append(r.colMeasure, measure)
	}
}

// buildColumnsOnly inverts the roles: one pivot row per measure, one column
// per column-dimension group.
func buildColumnsOnly(r *Result, ds Dataset, spec Spec, measures []string, agg aggregation, cmp *valueComparator, allRows []int) {
	colGroups := groupBy(ds, spec.Columns, cmp)

	ordered := append([]string(nil), measures...)
	sort.Strings(ordered)

	r.Values = make([][]*float64, len(ordered))
	for i, measure := range ordered {
		r.RowHeaders = append(r.RowHeaders, []any{measure})
		r.rowMembers = append(r.rowMembers, allRows)
		r.rowMeasure = append(r.rowMeasure, measure)
		cells := make([]*float64, len(colGroups))
		for j, cg := range colGroups {
			cells[j] = agg.reduce(memberValues(ds, cg.members, measure))
		}
		r.Values[i] = cells
	}
	for _, cg := range colGroups {
		r.ColumnHeaders = append(r.ColumnHeaders, cg.tuple)
		r.ColumnKeys = append(r.ColumnKeys, DimensionKey(cg.tuple...))
		r.colMembers = append(r.colMembers, cg.members)
		r.colMeasure = append(r.colMeasure, "")
	}
}

// recomputeTotals fills row, column and grand totals. It is shared by the
// builder and the post-calculation rebuild so both follow one rule: cells
// summed for sum/count-family aggregators, underlying rows re-aggregated
// for everything else. Columns without group membership (post-calculated
// ones) fall back to reducing their own cells.
func recomputeTotals(r *Result) error {
	if r.IsSummary() {
		return nil
	}
	agg, err := resolveAggregation(r.Aggregator)
	if err != nil {
		return err
	}

	nRows := len(r.Values)
	nCols := len(r.ColumnKeys)
	r.RowTotals = make([]*float64, nRows)
	r.ColumnTotals = make([]*float64, nCols)

	if sumConsistent(r.Aggregator) {
		for i := 0; i < nRows; i++ {
			r.RowTotals[i] = sumCells(r.Values[i])
		}
		for j := 0; j < nCols; j++ {
			col := make([]*float64, nRows)
			for i := 0; i < nRows; i++ {
				col[i] = r.Values[i][j]
			}
			r.ColumnTotals[j] = sumCells(col)
		}
		var all []*float64
		for i := 0; i < nRows; i++ {
			all = append(all, r.Values[i]...)
		}
		r.GrandTotal = sumCells(all)
		return nil
	}

	for i := 0; i < nRows; i++ {
		if r.source != nil && i < len(r.rowMembers) && r.rowMembers[i] != nil {
			r.RowTotals[i] = agg.reduce(groupValues(r.source, r.rowMembers[i], r.measuresFor(r.rowMeasure[i])))
		} else {
			r.RowTotals[i] = agg.reduce(cellsToValues(r.Values[i]))
		}
	}
	for j := 0; j < nCols; j++ {
		if r.source != nil && j < len(r.colMembers) && r.colMembers[j] != nil {
			r.ColumnTotals[j] = agg.reduce(groupValues(r.source, r.colMembers[j], r.measuresFor(r.colMeasure[j])))
		} else {
			col := make([]*float64, nRows)
			for i := 0; i < nRows; i++ {
				col[i] = r.Values[i][j]
			}
			r.ColumnTotals[j] = agg.reduce(cellsToValues(col))
		}
	}
	if r.source != nil {
		all := make([]int, len(r.source))
		for i := range r.source {
			all[i] = i
		}
		r.GrandTotal = agg.reduce(groupValues(r.source, all, r.Measures))
	} else {
		var cells []*float64
		for i := 0; i < nRows; i++ {
			cells = append(cells, r.Values[i]...)
		}
		r.GrandTotal = agg.reduce(cellsToValues(cells))
	}
	return nil
}

func (r *Result) measuresFor(bound string) []string {
	if bound != "" {
		return []string{bound}
	}
	return r.Measures
}

// groupBy partitions the dataset by the dimension tuple, preserving a
// deterministic natural order of the group keys.
func groupBy(ds Dataset, dims []string, cmp *valueComparator) []group {
	index := make(map[string]int)
	var groups []group
	for i, row := range ds {
		tuple := make([]any, len(dims))
		for d, dim := range dims {
			tuple[d] = row[dim]
		}
		key := tupleKey(tuple)
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, group{tuple: tuple})
		}
		groups[gi].members = append(groups[gi].members, i)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return cmp.compareTuples(groups[i].tuple, groups[j].tuple) < 0
	})
	return groups
}

// tupleKey builds a collision-safe map key for a dimension tuple. The NUL
// marker keeps a nil dimension distinct from an empty string.
func tupleKey(tuple []any) string {
	key := ""
	for _, v := range tuple {
		if v == nil {
			key += "\x00\x1f"
			continue
		}
		key += "v" + valueString(v) + "\x1f"
	}
	return key
}

func ensureNumericMeasure(ds Dataset, measure string) error {
	nonNull, numeric := 0, 0
	for _, row := range ds {
		v, ok := row[measure]
		if !ok || v == nil {
			continue
		}
		nonNull++
		if _, ok := toFloat(v); ok {
			numeric++
		}
	}
	if nonNull > 0 && numeric == 0 {
		return newPivotErrorf("measure %q is not numeric", measure)
	}
	return nil
}

func normalizeMeasures(measures []string) []string {
	seen := make(map[string]bool, len(measures))
	var out []string
	for _, m := range measures {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func columnValues(ds Dataset, field string) []any {
	values := make([]any, len(ds))
	for i, row := range ds {
		values[i] = row[field]
	}
	return values
}

func memberValues(ds Dataset, members []int, field string) []any {
	values := make([]any, len(members))
	for i, idx := range members {
		values[i] = ds[idx][field]
	}
	return values
}

func groupValues(ds Dataset, members []int, fields []string) []any {
	values := make([]any, 0, len(members)*len(fields))
	for _, idx := range members {
		for _, field := range fields {
			values = append(values, ds[idx][field])
		}
	}
	return values
}

func sumCells(cells []*float64) *float64 {
	var sum float64
	found := false
	for _, c := range cells {
		if c != nil {
			sum += *c
			found = true
		}
	}
	if !found {
		return nil
	}
	return &sum
}

func cellsToValues(cells []*float64) []any {
	values := make([]any, len(cells))
	for i, c := range cells {
		if c != nil {
			values[i] = *c
		}
	}
	return values
}

// valueComparator orders dimension values deterministically: nulls first,
// then numbers and timestamps, then text through a numeric-aware collator so
// "item2" sorts before "item10".
type valueComparator struct {
	collator *collate.Collator
}

func newValueComparator() *valueComparator {
	return &valueComparator{collator: collate.New(language.Und, collate.Numeric)}
}

func (c *valueComparator) compareTuples(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if diff := c.compareValues(a[i], b[i]); diff != 0 {
			return diff
		}
	}
	return len(a) - len(b)
}

func (c *valueComparator) compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0: // both nil
		return 0
	case 1: // both numeric
		fa, _ := typedFloat(a)
		fb, _ := typedFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2: // both timestamps
		ta, tb := a.(time.Time), b.(time.Time)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
		return 0
	default:
		return c.collator.CompareString(valueString(a), valueString(b))
	}
}

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case time.Time:
		return 2
	case string:
		return 3
	default:
		if _, ok := typedFloat(v); ok {
			return 1
		}
		return 3
	}
}

// typedFloat is toFloat restricted to values that are actually numeric
// types; numeric-looking strings keep sorting as text.
func typedFloat(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return toFloat(v)
}
