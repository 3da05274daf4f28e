package convert

import "strconv"

// Kind identifies which member of a Value is set.
type Kind uint8

const (
	KindInt Kind = iota
	KindUint
	KindFloat
	KindString
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is one element in transit between a wire type and a user type.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	bits int
	s    string
}

func OfInt(v int64) Value     { return Value{kind: KindInt, i: v} }
func OfUint(v uint64) Value   { return Value{kind: KindUint, u: v} }
func OfFloat(v float64) Value { return Value{kind: KindFloat, f: v, bits: 64} }
func OfString(v string) Value { return Value{kind: KindString, s: v} }

// OfFloat32 keeps the single precision for string formatting.
func OfFloat32(v float32) Value { return Value{kind: KindFloat, f: float64(v), bits: 32} }

func OfBool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// Float returns v as float64. Strings yield 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt, KindBool:
		return float64(v.i)
	case KindUint:
		return float64(v.u)
	case KindFloat:
		return v.f
	default:
		return 0
	}
}

// String formats v. Floats use the shortest representation that round-trips
// at their precision.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, v.bits)
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	default:
		return v.s
	}
}
