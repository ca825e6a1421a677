package pivot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFirstSeenOrder(t *testing.T) {
	ds := Dataset{
		{"b": 1.0, "a": 2.0},
		{"c": 3.0},
	}
	// Fields of one row tie on first-seen index and fall back to lexical
	// order; later rows append after them.
	assert.Equal(t, []string{"a", "b", "c"}, ds.Schema())
}

func TestNumericColumns(t *testing.T) {
	ds := Dataset{
		{"name": "x", "qty": 1.0, "code": "10"},
		{"name": "y", "qty": nil, "code": "n/a"},
	}
	// qty: all non-null values parse. code: "n/a" does not.
	assert.Equal(t, []string{"qty"}, ds.NumericColumns())

	text := Dataset{{"name": "x"}, {"name": "y"}}
	assert.Equal(t, []string{"name"}, text.NumericColumns())
}

func TestFilter(t *testing.T) {
	ds := salesDataset()

	filtered := ds.Filter(map[string][]string{"unit": {"X"}})
	require.Len(t, filtered, 2)
	assert.Equal(t, "X", filtered[0]["unit"])

	// Numbers match by their string rendering.
	byValue := ds.Filter(map[string][]string{"value": {"10", "5"}})
	assert.Len(t, byValue, 2)

	// Empty value lists and nil filters are ignored.
	assert.Len(t, ds.Filter(map[string][]string{"unit": {}}), 3)
	assert.Len(t, ds.Filter(nil), 3)

	assert.Empty(t, ds.Filter(map[string][]string{"unit": {"Z"}}))
}

func TestWithFieldCopies(t *testing.T) {
	ds := Dataset{{"a": 1.0}, {"a": 2.0}}
	out := ds.withField("b", []*float64{fp(10), nil})

	assert.Equal(t, 10.0, out[0]["b"])
	assert.Nil(t, out[1]["b"])
	_, ok := ds[0]["b"]
	assert.False(t, ok, "input dataset must stay untouched")
}

func TestToFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{nil, 0, false},
		{42.5, 42.5, true},
		{int(3), 3, true},
		{true, 1, true},
		{false, 0, true},
		{"12.5", 12.5, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := toFloat(tc.in)
		assert.Equal(t, tc.ok, ok, "input %v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %v", tc.in)
		}
	}
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "", valueString(nil))
	assert.Equal(t, "10", valueString(10.0))
	assert.Equal(t, "1.5", valueString(1.5))
	assert.Equal(t, "true", valueString(true))
	assert.Equal(t, "x", valueString("x"))
}
