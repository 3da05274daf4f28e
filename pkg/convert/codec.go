package convert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pvmux/pvmux-go/pkg/ca"
)

// Codec reads and writes single elements of one wire type. It is resolved
// once per channel configuration and is safe for concurrent use.
type Codec struct {
	typ  ca.FieldType
	size int
}

// CodecFor returns the codec for t.
func CodecFor(t ca.FieldType) (Codec, error) {
	if !t.Valid() {
		return Codec{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return Codec{typ: t, size: t.ElementSize()}, nil
}

// Type returns the wire type handled by c.
func (c Codec) Type() ca.FieldType { return c.typ }

// ElementSize returns the element size in bytes.
func (c Codec) ElementSize() int { return c.size }

// Get decodes element i of raw.
func (c Codec) Get(raw []byte, i int) Value {
	b := raw[i*c.size : (i+1)*c.size]
	switch c.typ {
	case ca.FieldString:
		if n := bytes.IndexByte(b, 0); n >= 0 {
			b = b[:n]
		}
		return OfString(string(b))
	case ca.FieldShort:
		return OfInt(int64(int16(binary.BigEndian.Uint16(b))))
	case ca.FieldFloat:
		return OfFloat32(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case ca.FieldEnum:
		return OfUint(uint64(binary.BigEndian.Uint16(b)))
	case ca.FieldChar:
		return OfUint(uint64(b[0]))
	case ca.FieldLong:
		return OfInt(int64(int32(binary.BigEndian.Uint32(b))))
	case ca.FieldDouble:
		return OfFloat(math.Float64frombits(binary.BigEndian.Uint64(b)))
	}
	return Value{}
}

// Put encodes v into element i of raw, saturating to the wire type.
func (c Codec) Put(raw []byte, i int, v Value) error {
	b := raw[i*c.size : (i+1)*c.size]
	switch c.typ {
	case ca.FieldString:
		s := v.String()
		if len(s) > ca.MaxStringSize-1 {
			s = s[:ca.MaxStringSize-1]
		}
		clear(b)
		copy(b, s)
		return nil
	case ca.FieldShort:
		n, err := toInt(v, math.MinInt16, math.MaxInt16)
		binary.BigEndian.PutUint16(b, uint16(int16(n)))
		return err
	case ca.FieldFloat:
		f, err := toFloat(v)
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(clampFloat(f, math.MaxFloat32))))
		return err
	case ca.FieldEnum:
		n, err := toUint(v, math.MaxUint16)
		binary.BigEndian.PutUint16(b, uint16(n))
		return err
	case ca.FieldChar:
		n, err := toUint(v, math.MaxUint8)
		b[0] = uint8(n)
		return err
	case ca.FieldLong:
		n, err := toInt(v, math.MinInt32, math.MaxInt32)
		binary.BigEndian.PutUint32(b, uint32(int32(n)))
		return err
	case ca.FieldDouble:
		f, err := toFloat(v)
		binary.BigEndian.PutUint64(b, math.Float64bits(f))
		return err
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, c.typ)
}
