package pivot

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// CalculationOptions carries the free-form options of a calculation spec.
// Numeric-valued fields stay untyped so callers can send JSON numbers or
// strings interchangeably.
type CalculationOptions struct {
	Decimals   any    `json:"decimals,omitempty"`
	Factor     any    `json:"factor,omitempty"`
	Lower      any    `json:"lower,omitempty"`
	Upper      any    `json:"upper,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// evaluateOperation applies a named operation to the aligned operand
// series. Null handling follows the engine's one rule per operation:
//
//   - add treats null as zero (and only add does);
//   - subtract and multiply fill missing sides with their identity but a
//     fully null position stays null;
//   - divide and percentage yield null for a zero or null denominator,
//     never a division trap;
//   - comparisons and between produce 0/1 indicators and propagate null.
//
// Every result has ±Inf normalized to null and, when the decimals option is
// present, is rounded half away from zero.
func evaluateOperation(series [][]*float64, operation string, options CalculationOptions, stage Stage) ([]*float64, error) {
	if len(series) == 0 {
		return nil, newCalcErrorf(stage, "operation requires at least one operand")
	}

	op := strings.ToLower(operation)
	if op == "" {
		op = "add"
	}

	var result []*float64
	switch op {
	case "add", "sum":
		result = evalAdd(series)
	case "subtract", "sub":
		result = evalSubtract(series)
	case "multiply", "mul":
		result = evalMultiply(series)
	case "divide", "div":
		if len(series) < 2 {
			return nil, newCalcErrorf(stage, "divide operation requires at least two operands")
		}
		result = evalDivide(series)
	case "percentage", "percent":
		if len(series) < 2 {
			return nil, newCalcErrorf(stage, "percentage operation requires two operands")
		}
		result = evalPercentage(series, options)
	case "greater_than", "gt":
		if len(series) < 2 {
			return nil, newCalcErrorf(stage, "greater_than operation requires two operands")
		}
		result = evalCompare(series[0], series[1], func(a, b float64) bool { return a > b })
	case "less_than", "lt":
		if len(series) < 2 {
			return nil, newCalcErrorf(stage, "less_than operation requires two operands")
		}
		result = evalCompare(series[0], series[1], func(a, b float64) bool { return a < b })
	case "between":
		lower, upper, err := rangeBounds(options, stage)
		if err != nil {
			return nil, err
		}
		result = evalBetween(series[0], lower, upper)
	default:
		return nil, newCalcErrorf(stage, "operation %q is not supported", operation)
	}

	normalizeInfinities(result)
	return applyDecimals(result, options, stage)
}

func evalAdd(series [][]*float64) []*float64 {
	n := len(series[0])
	out := make([]*float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, s := range series {
			if v := at(s, i); v != nil {
				sum += *v
			}
		}
		c := sum
		out[i] = &c
	}
	return out
}

func evalSubtract(series [][]*float64) []*float64 {
	n := len(series[0])
	out := make([]*float64, n)
	for i := 0; i < n; i++ {
		acc := 0.0
		if v := at(series[0], i); v != nil {
			acc = *v
		}
		for _, s := range series[1:] {
			if v := at(s, i); v != nil {
				acc -= *v
			}
		}
		c := acc
		out[i] = &c
	}
	return out
}

func evalMultiply(series [][]*float64) []*float64 {
	n := len(series[0])
	out := make([]*float64, n)
	for i := 0; i < n; i++ {
		acc := 1.0
		seen := false
		for _, s := range series {
			if v := at(s, i); v != nil {
				acc *= *v
				seen = true
			}
		}
		if !seen {
			continue
		}
		c := acc
		out[i] = &c
	}
	return out
}

func evalDivide(series [][]*float64) []*float64 {
	n := len(series[0])
	out := make([]*float64, n)
	for i := 0; i < n; i++ {
		num := at(series[0], i)
		if num == nil {
			continue
		}
		acc := *num
		ok := true
		for _, s := range series[1:] {
			den := at(s, i)
			if den == nil || *den == 0 {
				ok = false
				break
			}
			acc /= *den
		}
		if !ok {
			continue
		}
		c := acc
		out[i] = &c
	}
	return out
}

func evalPercentage(series [][]*float64, options CalculationOptions) []*float64 {
	factor := 100.0
	if f, ok := toFloat(options.Factor); ok {
		factor = f
	}
	n := len(series[0])
	out := make([]*float64, n)
	for i := 0; i < n; i++ {
		num := at(series[0], i)
		den := at(series[1], i)
		if num == nil || den == nil || *den == 0 {
			continue
		}
		c := *num / *den * factor
		out[i] = &c
	}
	return out
}

func evalCompare(left, right []*float64, pred func(a, b float64) bool) []*float64 {
	out := make([]*float64, len(left))
	for i := range left {
		a := at(left, i)
		b := at(right, i)
		if a == nil || b == nil {
			continue
		}
		c := 0.0
		if pred(*a, *b) {
			c = 1.0
		}
		out[i] = &c
	}
	return out
}

func evalBetween(series []*float64, lower, upper float64) []*float64 {
	out := make([]*float64, len(series))
	for i := range series {
		v := at(series, i)
		if v == nil {
			continue
		}
		c := 0.0
		if *v >= lower && *v <= upper {
			c = 1.0
		}
		out[i] = &c
	}
	return out
}

func rangeBounds(options CalculationOptions, stage Stage) (float64, float64, error) {
	if options.Lower == nil || options.Upper == nil {
		return 0, 0, newCalcErrorf(stage, "between operation requires lower and upper bounds")
	}
	lower, okLower := toFloat(options.Lower)
	upper, okUpper := toFloat(options.Upper)
	if !okLower || !okUpper {
		return 0, 0, newCalcErrorf(stage, "the bounds given for between are not numeric")
	}
	return lower, upper, nil
}

func normalizeInfinities(series []*float64) {
	for i, v := range series {
		if v != nil && (math.IsInf(*v, 0) || math.IsNaN(*v)) {
			series[i] = nil
		}
	}
}

// applyDecimals rounds every value half away from zero to the requested
// number of decimal places. Rounding goes through decimal arithmetic so
// 2.675 with decimals=2 yields 2.68, not the float artifact 2.67.
func applyDecimals(series []*float64, options CalculationOptions, stage Stage) ([]*float64, error) {
	if options.Decimals == nil {
		return series, nil
	}
	places, ok := toFloat(options.Decimals)
	if !ok {
		return nil, newCalcErrorf(stage, "invalid decimals value %v", options.Decimals)
	}
	for i, v := range series {
		if v == nil {
			continue
		}
		rounded := decimal.NewFromFloat(*v).Round(int32(places)).InexactFloat64()
		series[i] = &rounded
	}
	return series, nil
}

func at(series []*float64, i int) *float64 {
	if i >= len(series) {
		return nil
	}
	return series[i]
}
