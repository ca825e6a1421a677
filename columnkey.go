package pivot

import "encoding/json"

// ColumnKey is the stable, order-independent identity of one output column.
// A key is either a dimension tuple (the column-dimension values, with the
// measure name as the leading tier when several measures are requested) or a
// synthetic identifier registered for a post-calculated column. Keys are
// compared structurally; a dimension tuple can never collide with a
// calculation id.
type ColumnKey struct {
	Parts []any  // dimension tuple, nil for calculated columns
	Calc  string // calculation id, empty for dimension columns
}

// DimensionKey builds the key for a column identified by its dimension
// tuple.
func DimensionKey(parts ...any) ColumnKey {
	return ColumnKey{Parts: parts}
}

// CalcKey builds the key for a post-calculated column.
func CalcKey(id string) ColumnKey {
	return ColumnKey{Calc: id}
}

// IsCalc reports whether the key identifies a post-calculated column.
func (k ColumnKey) IsCalc() bool { return k.Calc != "" }

// Equal compares two keys structurally.
func (k ColumnKey) Equal(other ColumnKey) bool {
	if k.Calc != "" || other.Calc != "" {
		return k.Calc == other.Calc
	}
	if len(k.Parts) != len(other.Parts) {
		return false
	}
	for i := range k.Parts {
		if valueString(k.Parts[i]) != valueString(other.Parts[i]) {
			return false
		}
	}
	return true
}

// String returns the canonical wire form of the key: the calculation id for
// calculated columns, otherwise the JSON array encoding of the dimension
// tuple. Operand references and expression tokens resolve against this form.
func (k ColumnKey) String() string {
	if k.Calc != "" {
		return k.Calc
	}
	encoded, err := json.Marshal(k.Parts)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// MarshalJSON encodes the key as its canonical string.
func (k ColumnKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// columnLedger is the ordered mapping from column key to current column
// position, created when the base pivot is built and extended by one entry
// per applied post-calculation. Post-calculations can only reference earlier
// columns through it.
type columnLedger struct {
	keys  []ColumnKey
	index map[string]int
}

func newColumnLedger(keys []ColumnKey) *columnLedger {
	l := &columnLedger{keys: append([]ColumnKey(nil), keys...), index: make(map[string]int, len(keys))}
	for i, key := range keys {
		l.index[key.String()] = i
	}
	return l
}

// position resolves a caller-supplied reference to a column position.
func (l *columnLedger) position(ref string) (int, bool) {
	pos, ok := l.index[ref]
	return pos, ok
}

// has reports whether a reference is already registered.
func (l *columnLedger) has(ref string) bool {
	_, ok := l.index[ref]
	return ok
}

// insert registers a new key at the given position, shifting later entries
// right.
func (l *columnLedger) insert(pos int, key ColumnKey) {
	l.keys = append(l.keys, ColumnKey{})
	copy(l.keys[pos+1:], l.keys[pos:])
	l.keys[pos] = key
	l.index = make(map[string]int, len(l.keys))
	for i, k := range l.keys {
		l.index[k.String()] = i
	}
}

// flattenHeader joins a header tuple into a human-readable label. An
// entirely empty tuple is the "Total" placeholder.
func flattenHeader(parts []any) string {
	var cleaned []string
	for _, part := range parts {
		if part == nil {
			continue
		}
		cleaned = append(cleaned, valueString(part))
	}
	if len(cleaned) == 0 {
		return "Total"
	}
	out := cleaned[0]
	for _, part := range cleaned[1:] {
		out += " / " + part
	}
	return out
}
