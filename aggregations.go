package pivot

// AggregationInfo describes one registered aggregator for client listings.
type AggregationInfo struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Format string `json:"format"`
}

// Value format tags attached to pivot results. They affect display only,
// never computation.
const (
	FormatNumber   = "number"
	FormatCurrency = "currency"
)

// aggregation binds a reduction to its display metadata. The reduce
// function receives the raw values of the group's member rows and returns
// nil when the group has nothing to aggregate.
type aggregation struct {
	label  string
	format string
	reduce func(values []any) *float64
}

var aggregations = map[string]aggregation{
	"sum":            {label: "Sum", format: FormatNumber, reduce: reduceSum},
	"money_sum":      {label: "Sum ($)", format: FormatCurrency, reduce: reduceSum},
	"avg":            {label: "Average", format: FormatNumber, reduce: reduceMean},
	"count":          {label: "Count", format: FormatNumber, reduce: reduceCount},
	"distinct_count": {label: "Distinct count", format: FormatNumber, reduce: reduceDistinctCount},
	"min":            {label: "Minimum", format: FormatNumber, reduce: reduceMin},
	"max":            {label: "Maximum", format: FormatNumber, reduce: reduceMax},
}

// aggregationOrder fixes the catalog order shown to clients.
var aggregationOrder = []string{"sum", "money_sum", "avg", "count", "distinct_count", "min", "max"}

// Aggregations returns the static ordered catalog of available aggregators.
func Aggregations() []AggregationInfo {
	out := make([]AggregationInfo, 0, len(aggregationOrder))
	for _, id := range aggregationOrder {
		meta := aggregations[id]
		out = append(out, AggregationInfo{ID: id, Label: meta.label, Format: meta.format})
	}
	return out
}

func resolveAggregation(id string) (aggregation, error) {
	meta, ok := aggregations[id]
	if !ok {
		return aggregation{}, newPivotErrorf("aggregator %q is not supported", id)
	}
	return meta, nil
}

// numericReducing reports whether the aggregator consumes numeric values.
// count and distinct_count accept values of any type.
func numericReducing(id string) bool {
	switch id {
	case "count", "distinct_count":
		return false
	default:
		return true
	}
}

// sumConsistent reports whether the aggregator's row/column totals equal the
// null-safe sum of the already-aggregated cells. For the remaining
// aggregators totals must be re-derived from underlying rows.
func sumConsistent(id string) bool {
	switch id {
	case "sum", "money_sum", "count", "distinct_count":
		return true
	default:
		return false
	}
}

func reduceSum(values []any) *float64 {
	var sum float64
	found := false
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			sum += f
			found = true
		}
	}
	if !found {
		return nil
	}
	return &sum
}

func reduceMean(values []any) *float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

func reduceCount(values []any) *float64 {
	n := 0
	for _, v := range values {
		if v != nil {
			n++
		}
	}
	count := float64(n)
	return &count
}

func reduceDistinctCount(values []any) *float64 {
	seen := make(map[string]bool)
	for _, v := range values {
		if v == nil {
			continue
		}
		seen[valueString(v)] = true
	}
	count := float64(len(seen))
	return &count
}

func reduceMin(values []any) *float64 {
	var min float64
	found := false
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			if !found || f < min {
				min = f
			}
			found = true
		}
	}
	if !found {
		return nil
	}
	return &min
}

func reduceMax(values []any) *float64 {
	var max float64
	found := false
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			if !found || f > max {
				max = f
			}
			found = true
		}
	}
	if !found {
		return nil
	}
	return &max
}
