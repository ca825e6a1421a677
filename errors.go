package pivot

import "fmt"

// Stage identifies which phase of the pipeline a calculation runs in.
type Stage string

// Calculation stages. StagePre runs against raw dataset rows before
// aggregation, StagePost against the aggregated pivot table, StageBoth in
// both phases.
const (
	StagePre  Stage = "pre"
	StagePost Stage = "post"
	StageBoth Stage = "both"
)

// PivotError reports a structural problem with a pivot request: an unknown
// measure or aggregator, or empty required input. The message is safe to
// surface verbatim to the requester.
type PivotError struct {
	Message string
}

// Error implements the error interface.
func (e *PivotError) Error() string { return e.Message }

// CalculationError reports a failure in the calculated-field layer: an
// unknown field or column key, a bad operand, an unsupported operation, or a
// malformed expression. It unwraps to *PivotError so callers classifying
// errors with errors.As catch both kinds with one target.
type CalculationError struct {
	Message string
	Stage   Stage
}

// Error implements the error interface.
func (e *CalculationError) Error() string { return e.Message }

// Unwrap allows errors.As(err, &pivotErr) to match calculation errors too.
func (e *CalculationError) Unwrap() error { return &PivotError{Message: e.Message} }

func newPivotErrorf(format string, args ...any) *PivotError {
	return &PivotError{Message: fmt.Sprintf(format, args...)}
}

func newCalcErrorf(stage Stage, format string, args ...any) *CalculationError {
	return &CalculationError{Message: fmt.Sprintf(format, args...), Stage: stage}
}
