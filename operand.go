package pivot

// Operand describes one input to a calculation: either a column reference
// (`field` before aggregation, `columnKey` after) or a literal constant
// broadcast across every row.
type Operand struct {
	Type      string `json:"type,omitempty"`
	Field     string `json:"field,omitempty"`
	ColumnKey string `json:"columnKey,omitempty"`
	Value     any    `json:"value,omitempty"`
}

// resolvePreOperand aligns an operand to the raw dataset rows. Column cells
// that do not parse as numbers become null, never zero: a later division or
// aggregation must not silently treat missing data as a value.
func resolvePreOperand(ds Dataset, op Operand) ([]*float64, error) {
	switch operandType(op) {
	case "column":
		if !hasField(ds, op.Field) {
			return nil, newCalcErrorf(StagePre, "field %q not found for calculation", op.Field)
		}
		series := make([]*float64, len(ds))
		for i, row := range ds {
			if f, ok := toFloat(row[op.Field]); ok {
				v := f
				series[i] = &v
			}
		}
		return series, nil
	case "value":
		constant, err := operandConstant(op.Value, StagePre)
		if err != nil {
			return nil, err
		}
		return broadcast(constant, len(ds)), nil
	default:
		return nil, newCalcErrorf(StagePre, "operand type %q is not supported", op.Type)
	}
}

// resolvePostOperand aligns an operand to the aggregated pivot rows. Column
// operands are resolved through the column key ledger.
func resolvePostOperand(r *Result, ledger *columnLedger, op Operand) ([]*float64, error) {
	switch operandType(op) {
	case "column":
		pos, ok := ledger.position(op.ColumnKey)
		if !ok {
			return nil, newCalcErrorf(StagePost, "reference column %q was not found in the pivot result", op.ColumnKey)
		}
		series := make([]*float64, len(r.Values))
		for i := range r.Values {
			series[i] = r.Values[i][pos]
		}
		return series, nil
	case "value":
		constant, err := operandConstant(op.Value, StagePost)
		if err != nil {
			return nil, err
		}
		return broadcast(constant, len(r.Values)), nil
	default:
		return nil, newCalcErrorf(StagePost, "operand type %q is not supported", op.Type)
	}
}

func operandType(op Operand) string {
	if op.Type == "" {
		return "column"
	}
	return op.Type
}

// operandConstant parses a literal operand. An absent or empty value
// defaults to zero; anything non-numeric is an error identifying the stage.
func operandConstant(value any, stage Stage) (float64, error) {
	if value == nil || value == "" {
		return 0, nil
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, newCalcErrorf(stage, "invalid constant value %v in calculation", value)
	}
	return f, nil
}

func broadcast(v float64, n int) []*float64 {
	series := make([]*float64, n)
	for i := range series {
		c := v
		series[i] = &c
	}
	return series
}

func hasField(ds Dataset, field string) bool {
	for _, row := range ds {
		if _, ok := row[field]; ok {
			return true
		}
	}
	return false
}
