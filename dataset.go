package pivot

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Row is a single dataset record: a mapping from field name to a value of
// one of number, text, boolean, timestamp or nil. Fields absent from a row
// are treated as nil.
type Row map[string]any

// Dataset is an ordered sequence of rows. The schema is the union of keys
// encountered across all rows. The engine never mutates a Dataset it was
// handed; every pipeline stage that adds fields works on a copied view.
type Dataset []Row

// Schema returns the union of field names across all rows, in first-seen
// order.
func (d Dataset) Schema() []string {
	// Rows are unordered maps, so order fields by the first row index that
	// carries them, breaking ties lexicographically to stay deterministic.
	firstRow := make(map[string]int)
	var fields []string
	for i, row := range d {
		for field := range row {
			if _, ok := firstRow[field]; !ok {
				firstRow[field] = i
				fields = append(fields, field)
			}
		}
	}
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if firstRow[a] != firstRow[b] {
			return firstRow[a] < firstRow[b]
		}
		return a < b
	})
	return fields
}

// NumericColumns returns the fields whose non-null values coerce to numbers.
// It is the measure suggestion used by upload flows; when the dataset has no
// numeric column at all, every column is returned so the caller can still
// pick something.
func (d Dataset) NumericColumns() []string {
	schema := d.Schema()
	var numeric []string
	for _, field := range schema {
		nonNull, parsed := 0, 0
		for _, row := range d {
			v, ok := row[field]
			if !ok || v == nil {
				continue
			}
			nonNull++
			if _, ok := toFloat(v); ok {
				parsed++
			}
		}
		if nonNull > 0 && parsed == nonNull {
			numeric = append(numeric, field)
		}
	}
	if len(numeric) == 0 {
		return schema
	}
	return numeric
}

// Filter returns the rows whose values match every filter entry. Values are
// compared by their string rendering, matching how filter values are
// collected from clients. Unknown columns and empty value lists are ignored.
func (d Dataset) Filter(filters map[string][]string) Dataset {
	if len(filters) == 0 {
		return d
	}
	out := make(Dataset, 0, len(d))
	for _, row := range d {
		if rowMatches(row, filters) {
			out = append(out, row)
		}
	}
	return out
}

func rowMatches(row Row, filters map[string][]string) bool {
	for column, values := range filters {
		if len(values) == 0 {
			continue
		}
		cell := valueString(row[column])
		matched := false
		for _, want := range values {
			if cell == want {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// withField returns a copy of the dataset with one extra field appended to
// every row, leaving the receiver untouched.
func (d Dataset) withField(field string, values []*float64) Dataset {
	out := make(Dataset, len(d))
	for i, row := range d {
		next := make(Row, len(row)+1)
		for k, v := range row {
			next[k] = v
		}
		if i < len(values) && values[i] != nil {
			next[field] = *values[i]
		} else {
			next[field] = nil
		}
		out[i] = next
	}
	return out
}

// toFloat coerces a dataset value to a float64. Unparseable and absent
// values report false; they become null downstream, never zero.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// valueString renders a dataset value for filtering, distinct counting and
// header display.
func valueString(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	case time.Time:
		return n.Format(time.RFC3339)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprintf("%v", v)
	}
}
