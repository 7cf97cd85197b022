package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Encode serializes v according to t.
//
// Integer kinds accept any Go integer or an integral float; floats accept any
// number; Bool accepts bool; String accepts string; Buffer accepts []byte or string.
func Encode(v any, t Type) ([]byte, error) {
	switch t.Kind {
	case KindUint8, KindUint16, KindUint32, KindInt8, KindInt16, KindInt32:
		n, err := toInteger(v, t)
		if err != nil {
			return nil, err
		}
		return putInteger(n, t), nil

	case KindFloat32, KindFloat64:
		f, ok := toFloat(v)
		if !ok {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrTypeMismatch}
		}
		if t.Kind == KindFloat32 {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return nil, &EncodingError{Type: t, Value: v, Err: ErrOutOfRange}
			}
			buf := make([]byte, 4)
			order(t).PutUint32(buf, math.Float32bits(float32(f)))
			return buf, nil
		}
		buf := make([]byte, 8)
		order(t).PutUint64(buf, math.Float64bits(f))
		return buf, nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrTypeMismatch}
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrTypeMismatch}
		}
		if !utf8.ValidString(s) {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrInvalidUTF8}
		}
		if t.Length == 0 {
			if len(s) > math.MaxUint8 {
				return nil, &EncodingError{Type: t, Value: v, Err: ErrTooLong}
			}
			return append([]byte{byte(len(s))}, s...), nil
		}
		if len(s) > t.Length {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrTooLong}
		}
		// NUL is the padding byte; decode could not tell it apart.
		if strings.IndexByte(s, 0) >= 0 {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrEmbeddedNUL}
		}
		buf := make([]byte, t.Length)
		copy(buf, s)
		return buf, nil

	case KindBuffer:
		var raw []byte
		switch b := v.(type) {
		case []byte:
			raw = b
		case string:
			raw = []byte(b)
		default:
			return nil, &EncodingError{Type: t, Value: v, Err: ErrTypeMismatch}
		}
		if t.Length == 0 {
			return bytes.Clone(raw), nil
		}
		if len(raw) > t.Length {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrTooLong}
		}
		if len(raw) < t.Length {
			return nil, &EncodingError{Type: t, Value: v, Err: ErrShortValue}
		}
		return bytes.Clone(raw), nil
	}

	return nil, &EncodingError{Type: t, Value: v, Err: fmt.Errorf("unsupported kind %s", t.Kind)}
}

// Decode reads one value of type t from the start of data and reports how
// many bytes were consumed.
//
// Integers decode to int64, floats to float64, Bool to bool, String to string
// and Buffer to []byte.
func Decode(data []byte, t Type) (any, int, error) {
	return decodeAt(data, 0, t)
}

func decodeAt(data []byte, offset int, t Type) (any, int, error) {
	short := func(need int) error {
		return &DecodingError{Type: t, Offset: offset, Need: need, Have: len(data), Err: ErrShortBuffer}
	}

	if size := t.Size(); size > 0 && len(data) < size {
		return nil, 0, short(size)
	}

	switch t.Kind {
	case KindUint8:
		return int64(data[0]), 1, nil
	case KindInt8:
		return int64(int8(data[0])), 1, nil
	case KindUint16:
		return int64(order(t).Uint16(data)), 2, nil
	case KindInt16:
		return int64(int16(order(t).Uint16(data))), 2, nil
	case KindUint32:
		return int64(order(t).Uint32(data)), 4, nil
	case KindInt32:
		return int64(int32(order(t).Uint32(data))), 4, nil
	case KindFloat32:
		return float64(math.Float32frombits(order(t).Uint32(data))), 4, nil
	case KindFloat64:
		return math.Float64frombits(order(t).Uint64(data)), 8, nil
	case KindBool:
		return data[0] != 0, 1, nil

	case KindString:
		var raw []byte
		consumed := t.Length
		if t.Length == 0 {
			if len(data) < 1 {
				return nil, 0, short(1)
			}
			n := int(data[0])
			if len(data) < 1+n {
				return nil, 0, short(1 + n)
			}
			raw, consumed = data[1:1+n], 1+n
		} else {
			raw = bytes.TrimRight(data[:t.Length], "\x00")
		}
		if !utf8.Valid(raw) {
			return nil, 0, &DecodingError{Type: t, Offset: offset, Err: ErrInvalidUTF8}
		}
		return string(raw), consumed, nil

	case KindBuffer:
		if t.Length == 0 {
			return bytes.Clone(data), len(data), nil
		}
		return bytes.Clone(data[:t.Length]), t.Length, nil
	}

	return nil, 0, &DecodingError{Type: t, Offset: offset, Err: fmt.Errorf("unsupported kind %s", t.Kind)}
}

// EncodeAll encodes values[i] with types[i] and concatenates the results.
func EncodeAll(values []any, types []Type) ([]byte, error) {
	if len(values) != len(types) {
		return nil, fmt.Errorf("encode: %d values for %d types", len(values), len(types))
	}
	var out []byte
	for i, t := range types {
		b, err := Encode(values[i], t)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeAll decodes consecutive values described by types from data.
// A Buffer(0) consumes the remaining bytes and therefore must be last.
func DecodeAll(data []byte, types []Type) ([]any, error) {
	values := make([]any, 0, len(types))
	offset := 0
	for i, t := range types {
		if t.Kind == KindBuffer && t.Length == 0 && i != len(types)-1 {
			return nil, fmt.Errorf("decode: field %d: %s must be the last field", i+1, t)
		}
		v, n, err := decodeAt(data[offset:], offset, t)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		values = append(values, v)
		offset += n
	}
	return values, nil
}

func order(t Type) binary.ByteOrder {
	if t.Order == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func integerRange(k Kind) (int64, int64) {
	switch k {
	case KindUint8:
		return 0, math.MaxUint8
	case KindUint16:
		return 0, math.MaxUint16
	case KindUint32:
		return 0, math.MaxUint32
	case KindInt8:
		return math.MinInt8, math.MaxInt8
	case KindInt16:
		return math.MinInt16, math.MaxInt16
	default:
		return math.MinInt32, math.MaxInt32
	}
}

func toInteger(v any, t Type) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, &EncodingError{Type: t, Value: v, Err: ErrOutOfRange}
		}
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, &EncodingError{Type: t, Value: v, Err: ErrOutOfRange}
		}
		n = int64(x)
	case float32, float64:
		f, _ := toFloat(x)
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, &EncodingError{Type: t, Value: v, Err: ErrTypeMismatch}
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, &EncodingError{Type: t, Value: v, Err: ErrOutOfRange}
		}
		n = int64(f)
	default:
		return 0, &EncodingError{Type: t, Value: v, Err: ErrTypeMismatch}
	}

	lo, hi := integerRange(t.Kind)
	if n < lo || n > hi {
		return 0, &EncodingError{Type: t, Value: v, Err: ErrOutOfRange}
	}
	return n, nil
}

func putInteger(n int64, t Type) []byte {
	buf := make([]byte, t.Size())
	switch len(buf) {
	case 1:
		buf[0] = byte(n)
	case 2:
		order(t).PutUint16(buf, uint16(n))
	case 4:
		order(t).PutUint32(buf, uint32(n))
	}
	return buf
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
