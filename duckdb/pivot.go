package duckdb

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/pivotlabs/pivot"
)

// sqlGroup is one GROUP BY partition: the dimension tuple and one
// aggregated value per requested measure.
type sqlGroup struct {
	tuple  []any
	values []*float64
}

// BuildPivot computes a pivot for a previously loaded dataset entirely in
// SQL. The resulting structure matches pivot.Build: same layouts, same
// headers, same totals rule. Row, column and grand totals for avg, min and
// max re-aggregate the underlying table through UNION ALL of the measure
// columns; the sum and count families total their own cells.
func (e *Engine) BuildPivot(name string, spec pivot.Spec) (*pivot.Result, error) {
	e.mu.RLock()
	info, ok := e.tables[name]
	e.mu.RUnlock()
	if !ok {
		return nil, &pivot.PivotError{Message: fmt.Sprintf("dataset %q was not found or has expired", name)}
	}

	measures := dedupeMeasures(spec.Measures)
	if len(measures) == 0 {
		return nil, &pivot.PivotError{Message: "at least one numeric measure is required"}
	}
	for _, dim := range append(append([]string(nil), spec.Rows...), spec.Columns...) {
		if _, ok := info.columns[dim]; !ok {
			return nil, &pivot.PivotError{Message: fmt.Sprintf("column %q not found in the loaded dataset", dim)}
		}
	}
	for _, measure := range measures {
		if _, ok := info.columns[measure]; !ok {
			return nil, &pivot.PivotError{Message: fmt.Sprintf("column %q not found in the loaded dataset", measure)}
		}
	}
	format, err := aggregatorFormat(spec.Aggregator)
	if err != nil {
		return nil, err
	}

	var total int
	if err := e.db.QueryRow("SELECT COUNT(*) FROM " + info.table).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting rows of %s: %w", name, err)
	}
	if total == 0 {
		return nil, &pivot.PivotError{Message: "the dataset has no rows to aggregate"}
	}

	if numericReducing(spec.Aggregator) {
		for _, measure := range measures {
			if err := e.ensureNumericColumn(info, measure); err != nil {
				return nil, err
			}
		}
	}

	r := &pivot.Result{
		DatasetID:    name,
		Rows:         append([]string(nil), spec.Rows...),
		Columns:      append([]string(nil), spec.Columns...),
		Measures:     measures,
		Aggregator:   spec.Aggregator,
		Calculations: pivot.CalculationTrail{Pre: []pivot.Calculation{}, Post: []pivot.Calculation{}},
		ValueFormat:  format,
	}

	switch {
	case len(spec.Rows) == 0 && len(spec.Columns) == 0:
		return e.buildSummary(r, info, measures, spec.Aggregator)
	case len(spec.Rows) > 0 && len(spec.Columns) > 0:
		return e.buildGrid(r, info, spec, measures)
	case len(spec.Rows) > 0:
		return e.buildRowsOnly(r, info, spec, measures)
	default:
		return e.buildColumnsOnly(r, info, spec, measures)
	}
}

func (e *Engine) buildSummary(r *pivot.Result, info *tableInfo, measures []string, aggID string) (*pivot.Result, error) {
	exprs := make([]string, len(measures))
	for i, measure := range measures {
		exprs[i] = aggExpr(aggID, info.columns[measure])
	}
	row := e.db.QueryRow(fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), info.table))
	scanned := make([]sql.NullFloat64, len(measures))
	targets := make([]any, len(measures))
	for i := range scanned {
		targets[i] = &scanned[i]
	}
	if err := row.Scan(targets...); err != nil {
		return nil, fmt.Errorf("aggregating summary: %w", err)
	}

	r.RowHeaders = [][]any{}
	r.ColumnHeaders = [][]any{}
	r.ColumnKeys = []pivot.ColumnKey{}
	r.Values = [][]*float64{}
	r.RowTotals = []*float64{}
	r.ColumnTotals = []*float64{}
	r.SummaryValues = make(map[string]*float64, len(measures))
	for i, measure := range measures {
		r.SummaryValues[measure] = nullableFloat(scanned[i])
	}
	first := r.SummaryValues[measures[0]]
	r.SummaryValue = first
	r.GrandTotal = first
	return r, nil
}

func (e *Engine) buildGrid(r *pivot.Result, info *tableInfo, spec pivot.Spec, measures []string) (*pivot.Result, error) {
	rowGroups, err := e.queryGroups(info, spec.Rows, measures, spec.Aggregator)
	if err != nil {
		return nil, err
	}
	colGroups, err := e.queryGroups(info, spec.Columns, measures, spec.Aggregator)
	if err != nil {
		return nil, err
	}
	cells, err := e.queryGroups(info, append(append([]string(nil), spec.Rows...), spec.Columns...), measures, spec.Aggregator)
	if err != nil {
		return nil, err
	}

	rowIndex := make(map[string]int, len(rowGroups))
	for i, g := range rowGroups {
		rowIndex[tupleKey(g.tuple)] = i
	}
	colIndex := make(map[string]int, len(colGroups))
	for j, g := range colGroups {
		colIndex[tupleKey(g.tuple)] = j
	}

	// One column tier per measure when several are requested, measures
	// leading the tuple so the lexical tier order matches.
	ordered := append([]string(nil), measures...)
	if len(ordered) > 1 {
		sort.Strings(ordered)
	}
	measurePos := make(map[string]int, len(measures))
	for i, measure := range measures {
		measurePos[measure] = i
	}

	nRows, nCols := len(rowGroups), len(colGroups)*len(ordered)
	r.Values = make([][]*float64, nRows)
	for i := range r.Values {
		r.Values[i] = make([]*float64, nCols)
	}
	for _, cell := range cells {
		rowTuple := cell.tuple[:len(spec.Rows)]
		colTuple := cell.tuple[len(spec.Rows):]
		i := rowIndex[tupleKey(rowTuple)]
		j := colIndex[tupleKey(colTuple)]
		for mi, measure := range ordered {
			r.Values[i][len(colGroups)*mi+j] = cell.values[measurePos[measure]]
		}
	}

	for _, g := range rowGroups {
		r.RowHeaders = append(r.RowHeaders, g.tuple)
	}
	for _, measure := range ordered {
		for _, g := range colGroups {
			header := g.tuple
			if len(ordered) > 1 {
				header = append([]any{measure}, g.tuple...)
			}
			r.ColumnHeaders = append(r.ColumnHeaders, header)
			r.ColumnKeys = append(r.ColumnKeys, pivot.DimensionKey(header...))
		}
	}

	return r, e.fillTotals(r, info, spec, measures, rowGroups, colGroups, ordered)
}

func (e *Engine) buildRowsOnly(r *pivot.Result, info *tableInfo, spec pivot.Spec, measures []string) (*pivot.Result, error) {
	ordered := append([]string(nil), measures...)
	sort.Strings(ordered)

	rowGroups, err := e.queryGroups(info, spec.Rows, ordered, spec.Aggregator)
	if err != nil {
		return nil, err
	}
	for _, g := range rowGroups {
		r.RowHeaders = append(r.RowHeaders, g.tuple)
		r.Values = append(r.Values, g.values)
	}
	for _, measure := range ordered {
		r.ColumnHeaders = append(r.ColumnHeaders, []any{measure})
		r.ColumnKeys = append(r.ColumnKeys, pivot.DimensionKey(measure))
	}
	return r, e.fillTotals(r, info, spec, measures, rowGroups, nil, ordered)
}

func (e *Engine) buildColumnsOnly(r *pivot.Result, info *tableInfo, spec pivot.Spec, measures []string) (*pivot.Result, error) {
	ordered := append([]string(nil), measures...)
	sort.Strings(ordered)

	colGroups, err := e.queryGroups(info, spec.Columns, ordered, spec.Aggregator)
	if err != nil {
		return nil, err
	}
	r.Values = make([][]*float64, len(ordered))
	for mi, measure := range ordered {
		r.RowHeaders = append(r.RowHeaders, []any{measure})
		cells := make([]*float64, len(colGroups))
		for j, g := range colGroups {
			cells[j] = g.values[mi]
		}
		r.Values[mi] = cells
	}
	for _, g := range colGroups {
		r.ColumnHeaders = append(r.ColumnHeaders, g.tuple)
		r.ColumnKeys = append(r.ColumnKeys, pivot.DimensionKey(g.tuple...))
	}
	return r, e.fillTotals(r, info, spec, measures, nil, colGroups, ordered)
}

// fillTotals computes row, column and grand totals. Sum and count family
// aggregators reduce the already-aggregated cells; avg, min and max run
// fresh GROUP BY queries over the measure values stacked with UNION ALL so
// the totals reflect the underlying rows, not averages of averages.
func (e *Engine) fillTotals(r *pivot.Result, info *tableInfo, spec pivot.Spec, measures []string, rowGroups, colGroups []sqlGroup, ordered []string) error {
	nRows, nCols := len(r.Values), len(r.ColumnKeys)
	r.RowTotals = make([]*float64, nRows)
	r.ColumnTotals = make([]*float64, nCols)

	if sumConsistent(r.Aggregator) {
		var all []*float64
		for i := 0; i < nRows; i++ {
			r.RowTotals[i] = sumCells(r.Values[i])
			all = append(all, r.Values[i]...)
		}
		for j := 0; j < nCols; j++ {
			col := make([]*float64, nRows)
			for i := 0; i < nRows; i++ {
				col[i] = r.Values[i][j]
			}
			r.ColumnTotals[j] = sumCells(col)
		}
		r.GrandTotal = sumCells(all)
		return nil
	}

	switch {
	case len(spec.Rows) > 0 && len(spec.Columns) > 0:
		rowTotals, err := e.queryStackedTotals(info, spec.Rows, measures, r.Aggregator)
		if err != nil {
			return err
		}
		for i, g := range rowGroups {
			r.RowTotals[i] = rowTotals[tupleKey(g.tuple)]
		}
		for mi, measure := range ordered {
			totals, err := e.queryStackedTotals(info, spec.Columns, []string{measure}, r.Aggregator)
			if err != nil {
				return err
			}
			for j, g := range colGroups {
				r.ColumnTotals[len(colGroups)*mi+j] = totals[tupleKey(g.tuple)]
			}
		}
	case len(spec.Rows) > 0:
		rowTotals, err := e.queryStackedTotals(info, spec.Rows, measures, r.Aggregator)
		if err != nil {
			return err
		}
		for i, g := range rowGroups {
			r.RowTotals[i] = rowTotals[tupleKey(g.tuple)]
		}
		for j, measure := range ordered {
			total, err := e.queryScalar(info, []string{measure}, r.Aggregator)
			if err != nil {
				return err
			}
			r.ColumnTotals[j] = total
		}
	default:
		for i, measure := range ordered {
			total, err := e.queryScalar(info, []string{measure}, r.Aggregator)
			if err != nil {
				return err
			}
			r.RowTotals[i] = total
		}
		colTotals, err := e.queryStackedTotals(info, spec.Columns, measures, r.Aggregator)
		if err != nil {
			return err
		}
		for j, g := range colGroups {
			r.ColumnTotals[j] = colTotals[tupleKey(g.tuple)]
		}
	}

	grand, err := e.queryScalar(info, measures, r.Aggregator)
	if err != nil {
		return err
	}
	r.GrandTotal = grand
	return nil
}

// queryGroups runs one GROUP BY over the dimensions, aggregating every
// measure, ordered nulls first then numerically then as text.
func (e *Engine) queryGroups(info *tableInfo, dims, measures []string, aggID string) ([]sqlGroup, error) {
	selects := make([]string, 0, len(dims)+len(measures))
	groupCols := make([]string, 0, len(dims))
	for _, dim := range dims {
		selects = append(selects, info.columns[dim])
		groupCols = append(groupCols, info.columns[dim])
	}
	for _, measure := range measures {
		selects = append(selects, aggExpr(aggID, info.columns[measure]))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), info.table)
	if len(groupCols) > 0 {
		query += " GROUP BY " + strings.Join(groupCols, ", ")
		query += " ORDER BY " + orderClause(groupCols)
	}

	rows, err := e.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("aggregating groups: %w", err)
	}
	defer rows.Close()

	var groups []sqlGroup
	for rows.Next() {
		dimVals := make([]sql.NullString, len(dims))
		aggVals := make([]sql.NullFloat64, len(measures))
		targets := make([]any, 0, len(dims)+len(measures))
		for i := range dimVals {
			targets = append(targets, &dimVals[i])
		}
		for i := range aggVals {
			targets = append(targets, &aggVals[i])
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		g := sqlGroup{tuple: make([]any, len(dims)), values: make([]*float64, len(measures))}
		for i, v := range dimVals {
			if v.Valid {
				g.tuple[i] = v.String
			}
		}
		for i, v := range aggVals {
			g.values[i] = nullableFloat(v)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// queryStackedTotals groups by the dimensions over the measure columns
// stacked with UNION ALL, returning one re-aggregated total per tuple.
func (e *Engine) queryStackedTotals(info *tableInfo, dims, measures []string, aggID string) (map[string]*float64, error) {
	dimCols := make([]string, len(dims))
	for i, dim := range dims {
		dimCols[i] = info.columns[dim]
	}

	parts := make([]string, len(measures))
	for i, measure := range measures {
		parts[i] = fmt.Sprintf("SELECT %s, %s AS val FROM %s",
			strings.Join(dimCols, ", "), info.columns[measure], info.table)
	}
	query := fmt.Sprintf("SELECT %s, %s FROM (%s) GROUP BY %s",
		strings.Join(dimCols, ", "), aggExpr(aggID, "val"),
		strings.Join(parts, " UNION ALL "), strings.Join(dimCols, ", "))

	rows, err := e.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("aggregating totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]*float64)
	for rows.Next() {
		dimVals := make([]sql.NullString, len(dims))
		var agg sql.NullFloat64
		targets := make([]any, 0, len(dims)+1)
		for i := range dimVals {
			targets = append(targets, &dimVals[i])
		}
		targets = append(targets, &agg)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scanning total row: %w", err)
		}
		tuple := make([]any, len(dims))
		for i, v := range dimVals {
			if v.Valid {
				tuple[i] = v.String
			}
		}
		totals[tupleKey(tuple)] = nullableFloat(agg)
	}
	return totals, rows.Err()
}

// queryScalar aggregates the stacked measures over the whole table.
func (e *Engine) queryScalar(info *tableInfo, measures []string, aggID string) (*float64, error) {
	parts := make([]string, len(measures))
	for i, measure := range measures {
		parts[i] = fmt.Sprintf("SELECT %s AS val FROM %s", info.columns[measure], info.table)
	}
	query := fmt.Sprintf("SELECT %s FROM (%s)", aggExpr(aggID, "val"), strings.Join(parts, " UNION ALL "))
	var agg sql.NullFloat64
	if err := e.db.QueryRow(query).Scan(&agg); err != nil {
		return nil, fmt.Errorf("aggregating grand total: %w", err)
	}
	return nullableFloat(agg), nil
}

// ensureNumericColumn rejects measures whose non-null values never parse as
// numbers, mirroring the in-process builder's validation.
func (e *Engine) ensureNumericColumn(info *tableInfo, measure string) error {
	col := info.columns[measure]
	var nonNull, numeric int
	query := fmt.Sprintf("SELECT COUNT(%s), COUNT(TRY_CAST(%s AS DOUBLE)) FROM %s", col, col, info.table)
	if err := e.db.QueryRow(query).Scan(&nonNull, &numeric); err != nil {
		return fmt.Errorf("checking measure %s: %w", measure, err)
	}
	if nonNull > 0 && numeric == 0 {
		return &pivot.PivotError{Message: fmt.Sprintf("measure %q is not numeric", measure)}
	}
	return nil
}

// aggExpr maps an aggregator id to its SQL expression over one column.
// Values live as VARCHAR; TRY_CAST leaves unparseable cells NULL so the
// numeric aggregates skip them, matching the in-process reducers.
func aggExpr(aggID, col string) string {
	switch aggID {
	case "sum", "money_sum":
		return fmt.Sprintf("SUM(TRY_CAST(%s AS DOUBLE))", col)
	case "avg":
		return fmt.Sprintf("AVG(TRY_CAST(%s AS DOUBLE))", col)
	case "count":
		return fmt.Sprintf("COUNT(%s)", col)
	case "distinct_count":
		return fmt.Sprintf("COUNT(DISTINCT %s)", col)
	case "min":
		return fmt.Sprintf("MIN(TRY_CAST(%s AS DOUBLE))", col)
	case "max":
		return fmt.Sprintf("MAX(TRY_CAST(%s AS DOUBLE))", col)
	default:
		return fmt.Sprintf("SUM(TRY_CAST(%s AS DOUBLE))", col)
	}
}

func aggregatorFormat(aggID string) (string, error) {
	for _, info := range pivot.Aggregations() {
		if info.ID == aggID {
			return info.Format, nil
		}
	}
	return "", &pivot.PivotError{Message: fmt.Sprintf("aggregator %q is not supported", aggID)}
}

func numericReducing(aggID string) bool {
	switch aggID {
	case "count", "distinct_count":
		return false
	default:
		return true
	}
}

func sumConsistent(aggID string) bool {
	switch aggID {
	case "sum", "money_sum", "count", "distinct_count":
		return true
	default:
		return false
	}
}

// orderClause sorts each dimension nulls first, numeric-looking values
// numerically, the rest as text, approximating the in-process ordering.
func orderClause(cols []string) string {
	terms := make([]string, 0, len(cols)*3)
	for _, col := range cols {
		terms = append(terms,
			fmt.Sprintf("CASE WHEN %s IS NULL THEN 0 ELSE 1 END", col),
			fmt.Sprintf("TRY_CAST(%s AS DOUBLE) NULLS LAST", col),
			col,
		)
	}
	return strings.Join(terms, ", ")
}

func dedupeMeasures(measures []string) []string {
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

func tupleKey(tuple []any) string {
	key := ""
	for _, v := range tuple {
		if v == nil {
			key += "\x00\x1f"
			continue
		}
		key += "v" + fmt.Sprintf("%v", v) + "\x1f"
	}
	return key
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

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
