// Package metadata defines the typed value union stored against every
// row and the deep equality, ordering, and copy operations over it.
package metadata

import "fmt"

// Kind discriminates the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindArray
	KindObject
)

// Value is a typed metadata value: null, a 64-bit integer, a 64-bit
// float, a bool, a UTF-8 string, a homogeneous-or-not array of Values, or
// a string-keyed object of Values. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Int    int64
	Float  float64
	Bool   bool
	Str    string
	Array  []Value
	Object map[string]Value
}

func Null() Value                  { return Value{Kind: KindNull} }
func Int64(v int64) Value          { return Value{Kind: KindInt64, Int: v} }
func Float64(v float64) Value      { return Value{Kind: KindFloat64, Float: v} }
func Bool(v bool) Value            { return Value{Kind: KindBool, Bool: v} }
func String(v string) Value        { return Value{Kind: KindString, Str: v} }
func Array(v []Value) Value        { return Value{Kind: KindArray, Array: v} }
func Object(v map[string]Value) Value { return Value{Kind: KindObject, Object: v} }

// IsNumeric reports whether v holds an int64 or float64, the two kinds
// that compare against each other numerically.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt64 || v.Kind == KindFloat64
}

// AsFloat64 returns v's numeric value as a float64. It is only valid to
// call when IsNumeric() is true.
func (v Value) AsFloat64() float64 {
	if v.Kind == KindInt64 {
		return float64(v.Int)
	}
	return v.Float
}

// Equal reports deep equality. Values of different kinds are never
// equal, except that an int64 and a float64 holding the same numeric
// value ARE equal (matching the comparison's numeric-coercion rule).
func (a Value) Equal(b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return a.AsFloat64() == b.AsFloat64()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !a.Array[i].Equal(b.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two Values of the same comparable kind. It returns
// (-1, true), (0, true), or (1, true) when a and b are ordered, or
// (0, false) when they are not comparable — this is a total order within
// a type only: numeric-vs-numeric and string-vs-string are comparable,
// everything else (bool, array, object, null, or a cross-kind pairing
// other than int/float) is not.
func (a Value) Compare(b Value) (int, bool) {
	if a.IsNumeric() && b.IsNumeric() {
		af, bf := a.AsFloat64(), b.AsFloat64()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Kind == KindString && b.Kind == KindString {
		switch {
		case a.Str < b.Str:
			return -1, true
		case a.Str > b.Str:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

// DeepCopy returns a Value with no shared mutable state with v.
func (v Value) DeepCopy() Value {
	switch v.Kind {
	case KindArray:
		out := make([]Value, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.DeepCopy()
		}
		return Value{Kind: KindArray, Array: out}
	case KindObject:
		out := make(map[string]Value, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.DeepCopy()
		}
		return Value{Kind: KindObject, Object: out}
	default:
		return v
	}
}

// String renders v for diagnostics; it is not a serialization format.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt64:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindString:
		return v.Str
	case KindArray:
		return fmt.Sprintf("%v", v.Array)
	case KindObject:
		return fmt.Sprintf("%v", v.Object)
	default:
		return "?"
	}
}

// Bag is a row's owned metadata: a map from non-empty, row-unique key to
// typed Value.
type Bag map[string]Value

// DeepCopy returns a Bag sharing no mutable state with b.
func (b Bag) DeepCopy() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v.DeepCopy()
	}
	return out
}
