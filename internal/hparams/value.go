package hparams

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind enumerates the scalar types a document value can hold.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

var kindNames = map[Kind]string{
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParseKind maps a kind name ("bool", "int", "float", "string") to its Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean":
		return KindBool, nil
	case "int", "integer":
		return KindInt, nil
	case "float", "number":
		return KindFloat, nil
	case "string", "str":
		return KindString, nil
	}
	return KindInvalid, fmt.Errorf("unknown kind %q", name)
}

// Value is an immutable scalar tagged with its Kind.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Bool returns the boolean payload; false for other kinds.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns the integer payload; zero for other kinds.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		return 0
	}
	return v.i
}

// Float returns the float payload, widening ints.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.i)
	}
	return 0
}

// Interface returns the payload as bool, int64, float64 or string.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	}
	return nil
}

// String returns the canonical text of the value. Parsing the text back
// yields the same kind and payload, except for strings, which need quoting
// when they look like another kind (Encode takes care of that).
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	}
	return ""
}

// Equal reports whether both values have the same kind and payload.
// NaN floats compare equal to each other.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	}
	return true
}

// Coerce converts v to kind k. Ints widen to floats, integral floats narrow
// to ints; every other cross-kind conversion fails.
func (v Value) Coerce(k Kind) (Value, bool) {
	if v.kind == k {
		return v, true
	}
	switch {
	case v.kind == KindInt && k == KindFloat:
		return FloatValue(float64(v.i)), true
	case v.kind == KindFloat && k == KindInt:
		if v.f != math.Trunc(v.f) || v.f < math.MinInt64 || v.f >= math.MaxInt64 {
			return Value{}, false
		}
		return IntValue(int64(v.f)), true
	}
	return Value{}, false
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".e") {
		text += ".0"
	}
	return text
}
