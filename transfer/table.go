package transfer

import (
	"errors"
	"math"
	"strings"
)

// ErrInvalidKey is returned when a table key is nil or NaN.
var ErrInvalidKey = errors.New("table index is nil or NaN")

// Pair is one key/value entry of a Table.
type Pair struct {
	Key   Value
	Value Value
}

// Table is a keyed composite. Entries keep their insertion order, which
// is the order in which they were produced by the source state.
type Table struct {
	pairs []Pair
	index map[Value]int
	// keys 1..border are present; border+1 is absent
	border int
}

// NewTable returns an empty table with room for hint entries.
func NewTable(hint int) *Table {
	if hint < 0 {
		hint = 0
	}
	return &Table{
		pairs: make([]Pair, 0, hint),
		index: make(map[Value]int, hint),
	}
}

// List returns a sequence table holding vals at keys 1..len(vals).
func List(vals ...Value) *Table {
	t := NewTable(len(vals))
	for _, v := range vals {
		t.Append(v)
	}
	return t
}

func (t *Table) Kind() Kind { return KindTable }

func (t *Table) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range t.pairs {
		if i > 0 {
			b.WriteString(", ")
		}
		if s, ok := p.Key.(String); ok {
			b.WriteString(string(s))
		} else {
			b.WriteByte('[')
			b.WriteString(p.Key.String())
			b.WriteByte(']')
		}
		b.WriteByte('=')
		if s, ok := p.Value.(String); ok {
			b.WriteString(`"` + string(s) + `"`)
		} else {
			b.WriteString(p.Value.String())
		}
	}
	b.WriteByte('}')
	return b.String()
}

// Set stores v under k. Storing Nil removes the entry.
func (t *Table) Set(k, v Value) error {
	if !validKey(k) {
		return ErrInvalidKey
	}
	if t.index == nil {
		t.index = make(map[Value]int)
	}
	if IsNil(v) {
		t.Delete(k)
		return nil
	}
	if i, ok := t.index[k]; ok {
		t.pairs[i].Value = v
		return nil
	}
	t.index[k] = len(t.pairs)
	t.pairs = append(t.pairs, Pair{Key: k, Value: v})
	if n, ok := k.(Number); ok && float64(n) == float64(t.border+1) {
		t.advance()
	}
	return nil
}

func (t *Table) advance() {
	for {
		if _, ok := t.index[Number(t.border+1)]; !ok {
			return
		}
		t.border++
	}
}

// SetString stores v under the string key k.
func (t *Table) SetString(k string, v Value) {
	_ = t.Set(String(k), v)
}

// Append stores v at the key following the current border. Appending
// Nil stores nothing.
func (t *Table) Append(v Value) {
	_ = t.Set(Number(t.border+1), v)
}

// Get returns the value stored under k, or Nil.
func (t *Table) Get(k Value) Value {
	if v, ok := t.lookup(k, 0); ok {
		return v
	}
	return Nil{}
}

// Delete removes the entry stored under k.
func (t *Table) Delete(k Value) {
	i, ok := t.index[k]
	if !ok {
		return
	}
	delete(t.index, k)
	if n, ok := k.(Number); ok && float64(n) >= 1 && float64(n) <= float64(t.border) && float64(n) == math.Trunc(float64(n)) {
		t.border = int(n) - 1
	}
	t.pairs = append(t.pairs[:i], t.pairs[i+1:]...)
	for j := i; j < len(t.pairs); j++ {
		t.index[t.pairs[j].Key] = j
	}
}

// Len returns the border of the table: the largest n such that the keys
// 1..n are all present.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.border
}

// Count returns the number of entries.
func (t *Table) Count() int {
	if t == nil {
		return 0
	}
	return len(t.pairs)
}

// Range calls fn for every entry in order until fn returns false.
func (t *Table) Range(fn func(k, v Value) bool) {
	for _, p := range t.pairs {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Pairs returns a copy of the entries in order.
func (t *Table) Pairs() []Pair {
	out := make([]Pair, len(t.pairs))
	copy(out, t.pairs)
	return out
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := NewTable(len(t.pairs))
	for _, p := range t.pairs {
		_ = c.Set(Clone(p.Key), Clone(p.Value))
	}
	return c
}

// lookup finds k by identity first. Table keys from another copy are then
// matched structurally.
func (t *Table) lookup(k Value, depth int) (Value, bool) {
	if t == nil || !validKey(k) {
		return nil, false
	}
	if i, ok := t.index[k]; ok {
		return t.pairs[i].Value, true
	}
	if _, ok := k.(*Table); !ok {
		return nil, false
	}
	for _, p := range t.pairs {
		if _, isTable := p.Key.(*Table); isTable && equal(p.Key, k, depth) {
			return p.Value, true
		}
	}
	return nil, false
}

func validKey(k Value) bool {
	switch v := k.(type) {
	case nil, Nil:
		return false
	case Number:
		return !math.IsNaN(float64(v))
	case *Table:
		return v != nil
	}
	return true
}
