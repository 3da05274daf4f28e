// Package convert moves values between Channel Access wire types and Go
// user types.
//
// Numeric conversions saturate: a value outside the destination range
// becomes the destination minimum or maximum. Floating point sources are
// rounded to the nearest integer, halves away from zero, and NaN converts to
// zero. Converting a string to any numeric or boolean type is a logic error;
// the reverse direction formats the number.
package convert

import (
	"math"

	"github.com/pvmux/pvmux-go/pkg/fault"
)

var (
	ErrStringConversion = fault.Logic("conversion from string is not allowed")
	ErrUnsupportedType  = fault.Runtime("field type not implemented")
	ErrRange            = fault.Logic("element range outside buffer")
)

// UserType is the set of element types an accessor can be instantiated with.
type UserType interface {
	int8 | int16 | int32 | int64 | int |
		uint8 | uint16 | uint32 | uint64 | uint |
		float32 | float64 | string | bool
}

// ToValue wraps x.
func ToValue[T UserType](x T) Value {
	switch v := any(x).(type) {
	case int8:
		return OfInt(int64(v))
	case int16:
		return OfInt(int64(v))
	case int32:
		return OfInt(int64(v))
	case int64:
		return OfInt(v)
	case int:
		return OfInt(int64(v))
	case uint8:
		return OfUint(uint64(v))
	case uint16:
		return OfUint(uint64(v))
	case uint32:
		return OfUint(uint64(v))
	case uint64:
		return OfUint(v)
	case uint:
		return OfUint(uint64(v))
	case float32:
		return OfFloat32(v)
	case float64:
		return OfFloat(v)
	case string:
		return OfString(v)
	case bool:
		return OfBool(v)
	}
	panic("unreachable")
}

// FromValue converts v to T with saturation.
func FromValue[T UserType](v Value) (T, error) {
	var out T
	var err error
	switch p := any(&out).(type) {
	case *int8:
		var n int64
		n, err = toInt(v, math.MinInt8, math.MaxInt8)
		*p = int8(n)
	case *int16:
		var n int64
		n, err = toInt(v, math.MinInt16, math.MaxInt16)
		*p = int16(n)
	case *int32:
		var n int64
		n, err = toInt(v, math.MinInt32, math.MaxInt32)
		*p = int32(n)
	case *int64:
		*p, err = toInt(v, math.MinInt64, math.MaxInt64)
	case *int:
		var n int64
		n, err = toInt(v, math.MinInt, math.MaxInt)
		*p = int(n)
	case *uint8:
		var n uint64
		n, err = toUint(v, math.MaxUint8)
		*p = uint8(n)
	case *uint16:
		var n uint64
		n, err = toUint(v, math.MaxUint16)
		*p = uint16(n)
	case *uint32:
		var n uint64
		n, err = toUint(v, math.MaxUint32)
		*p = uint32(n)
	case *uint64:
		*p, err = toUint(v, math.MaxUint64)
	case *uint:
		var n uint64
		n, err = toUint(v, math.MaxUint)
		*p = uint(n)
	case *float32:
		var f float64
		f, err = toFloat(v)
		*p = float32(clampFloat(f, math.MaxFloat32))
	case *float64:
		*p, err = toFloat(v)
	case *string:
		*p = v.String()
	case *bool:
		var f float64
		f, err = toFloat(v)
		*p = f != 0
	}
	return out, err
}

func toInt(v Value, lo, hi int64) (int64, error) {
	switch v.kind {
	case KindInt, KindBool:
		return min(max(v.i, lo), hi), nil
	case KindUint:
		if v.u > uint64(hi) {
			return hi, nil
		}
		return max(int64(v.u), lo), nil
	case KindFloat:
		f := v.f
		switch {
		case math.IsNaN(f):
			return 0, nil
		case f >= float64(hi):
			return hi, nil
		case f <= float64(lo):
			return lo, nil
		}
		return int64(math.Round(f)), nil
	default:
		return 0, ErrStringConversion
	}
}

func toUint(v Value, hi uint64) (uint64, error) {
	switch v.kind {
	case KindInt, KindBool:
		if v.i < 0 {
			return 0, nil
		}
		return min(uint64(v.i), hi), nil
	case KindUint:
		return min(v.u, hi), nil
	case KindFloat:
		f := v.f
		switch {
		case math.IsNaN(f), f <= 0:
			return 0, nil
		case f >= float64(hi):
			return hi, nil
		}
		return uint64(math.Round(f)), nil
	default:
		return 0, ErrStringConversion
	}
}

func toFloat(v Value) (float64, error) {
	if v.kind == KindString {
		return 0, ErrStringConversion
	}
	return v.Float(), nil
}

func clampFloat(f, limit float64) float64 {
	switch {
	case f > limit:
		return limit
	case f < -limit:
		return -limit
	}
	return f
}

// Decode converts n elements starting at element offset of a raw payload.
func Decode[T UserType](c Codec, raw []byte, offset, n int) ([]T, error) {
	if offset < 0 || n < 0 || (offset+n)*c.size > len(raw) {
		return nil, ErrRange
	}
	out := make([]T, n)
	for i := range out {
		x, err := FromValue[T](c.Get(raw, offset+i))
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// Encode writes xs into raw starting at element offset. Elements outside the
// written range are left untouched.
func Encode[T UserType](c Codec, raw []byte, offset int, xs []T) error {
	if offset < 0 || (offset+len(xs))*c.size > len(raw) {
		return ErrRange
	}
	for i, x := range xs {
		if err := c.Put(raw, offset+i, ToValue(x)); err != nil {
			return err
		}
	}
	return nil
}
