package pivot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePreOperandColumn(t *testing.T) {
	ds := Dataset{
		{"v": 10.0},
		{"v": "not a number"},
		{"v": nil},
		{"v": "7.5"},
	}

	series, err := resolvePreOperand(ds, Operand{Field: "v"})
	require.NoError(t, err)
	// Unparseable cells become null, never zero.
	assert.Equal(t, []*float64{fp(10), nil, nil, fp(7.5)}, series)
}

func TestResolvePreOperandConstant(t *testing.T) {
	ds := salesDataset()

	series, err := resolvePreOperand(ds, Operand{Type: "value", Value: 3})
	require.NoError(t, err)
	assert.Equal(t, []*float64{fp(3), fp(3), fp(3)}, series)

	// Absent and empty constants default to zero.
	series, err = resolvePreOperand(ds, Operand{Type: "value"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, *series[0])

	_, err = resolvePreOperand(ds, Operand{Type: "value", Value: "abc"})
	require.Error(t, err)
}

func TestResolvePreOperandErrors(t *testing.T) {
	ds := salesDataset()

	_, err := resolvePreOperand(ds, Operand{Field: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "ghost" not found`)

	_, err = resolvePreOperand(ds, Operand{Type: "weird"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestResolvePostOperand(t *testing.T) {
	r := buildSalesGrid(t)
	ledger := newColumnLedger(r.ColumnKeys)

	series, err := resolvePostOperand(r, ledger, Operand{ColumnKey: `["B"]`})
	require.NoError(t, err)
	assert.Equal(t, []*float64{fp(20), nil}, series)

	_, err = resolvePostOperand(r, ledger, Operand{ColumnKey: "ghost"})
	require.Error(t, err)
	var cerr *CalculationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StagePost, cerr.Stage)
}
