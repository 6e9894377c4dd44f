package common

import (
	"fmt"
	"math"
	"strconv"
)

// ValueKind discriminates the Value union
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

// FloatEpsilon bounds float equality comparisons
const FloatEpsilon = 2.220446049250313e-16

// Value is the runtime representation of a single column value
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	F    float64
	S    string
}

// Null returns the null value
func Null() Value { return Value{Kind: KindNull} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// Int wraps a 64-bit integer
func Int(i int64) Value { return Value{Kind: KindInt, I: i} }

// Float wraps a 64-bit float
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }

// String wraps a string
func String(s string) Value { return Value{Kind: KindString, S: s} }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Truthy reports whether the value is boolean true.
// Nulls and non-booleans are not truthy.
func (v Value) Truthy() bool { return v.Kind == KindBool && v.B }

// AsFloat converts numeric values to float64
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	}
	return 0, false
}

// Equal compares two values for equality. Null equals nothing, including
// null. Mixed int/float comparisons promote to float; float equality is
// epsilon-bounded.
func (v Value) Equal(other Value) bool {
	if v.Kind == KindNull || other.Kind == KindNull {
		return false
	}
	if v.Kind == other.Kind {
		switch v.Kind {
		case KindBool:
			return v.B == other.B
		case KindInt:
			return v.I == other.I
		case KindFloat:
			return math.Abs(v.F-other.F) < FloatEpsilon
		case KindString:
			return v.S == other.S
		}
	}
	lf, lok := v.AsFloat()
	rf, rok := other.AsFloat()
	if lok && rok {
		return math.Abs(lf-rf) < FloatEpsilon
	}
	return false
}

// Compare orders two comparable values: -1, 0, or 1. The second return is
// false when the values are not mutually comparable (null involved or
// mismatched non-numeric kinds).
func (v Value) Compare(other Value) (int, bool) {
	if v.Kind == KindNull || other.Kind == KindNull {
		return 0, false
	}
	if v.Kind == KindString && other.Kind == KindString {
		switch {
		case v.S < other.S:
			return -1, true
		case v.S > other.S:
			return 1, true
		}
		return 0, true
	}
	if v.Kind == KindBool && other.Kind == KindBool {
		switch {
		case !v.B && other.B:
			return -1, true
		case v.B && !other.B:
			return 1, true
		}
		return 0, true
	}
	lf, lok := v.AsFloat()
	rf, rok := other.AsFloat()
	if !lok || !rok {
		return 0, false
	}
	switch {
	case math.Abs(lf-rf) < FloatEpsilon:
		return 0, true
	case lf < rf:
		return -1, true
	}
	return 1, true
}

// String renders the value in literal syntax
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.B {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindString:
		return fmt.Sprintf("'%s'", v.S)
	}
	return "?"
}

// TypeName returns the human-readable type name used in error messages
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return "unknown"
}
