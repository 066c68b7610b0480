package transfer

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindAddress
	KindNumber
	KindString
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindAddress:
		return "address"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a transferable value. The implementations are Nil, Bool,
// Address, Number, String and *Table; all of them are comparable, so
// scalar values can be compared with == and used as map keys.
type Value interface {
	Kind() Kind
	String() string
}

// Nil is the absent value.
type Nil struct{}

// Bool is a boolean value.
type Bool bool

// Address is an opaque capability token. It is carried by value and never
// dereferenced.
type Address uintptr

// Number is a double precision number.
type Number float64

// String is a byte string. It may contain zero bytes.
type String string

func (Nil) Kind() Kind     { return KindNil }
func (Bool) Kind() Kind    { return KindBool }
func (Address) Kind() Kind { return KindAddress }
func (Number) Kind() Kind  { return KindNumber }
func (String) Kind() Kind  { return KindString }

func (Nil) String() string       { return "nil" }
func (b Bool) String() string    { return strconv.FormatBool(bool(b)) }
func (a Address) String() string { return fmt.Sprintf("address: %#x", uintptr(a)) }
func (s String) String() string  { return string(s) }

func (n Number) String() string {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}

// KindOf returns the kind of v, treating a nil interface as KindNil.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNil
	}
	return v.Kind()
}

// IsNil reports whether v is absent.
func IsNil(v Value) bool {
	return KindOf(v) == KindNil
}

// Equal reports whether a and b hold the same data. Tables are compared
// deeply; two NaN numbers are not equal.
func Equal(a, b Value) bool {
	return equal(a, b, 0)
}

func equal(a, b Value, depth int) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	ta, ok := a.(*Table)
	if !ok {
		if a == nil || b == nil {
			return true
		}
		return a == b
	}
	tb := b.(*Table)
	if ta == tb {
		return true
	}
	if ta == nil || tb == nil || ta.Count() != tb.Count() {
		return false
	}
	if depth >= DefaultMaxDepth {
		return false
	}
	same := true
	ta.Range(func(k, v Value) bool {
		other, found := tb.lookup(k, depth+1)
		if !found || !equal(v, other, depth+1) {
			same = false
		}
		return same
	})
	return same
}

// Clone returns a deep copy of v. Scalars are returned unchanged.
func Clone(v Value) Value {
	t, ok := v.(*Table)
	if !ok {
		if v == nil {
			return Nil{}
		}
		return v
	}
	return t.Clone()
}
