// Package codec encodes and decodes typed values to and from the raw byte
// payloads exchanged with BLE centrals.
//
// Multi-byte numeric kinds are little-endian unless wrapped with Endian, which
// matches the byte order used by the Bluetooth GATT specification.
package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the wire representation of a value.
type Kind int

const (
	KindUint8 Kind = iota
	KindUint16
	KindUint32
	KindInt8
	KindInt16
	KindInt32
	KindFloat32
	KindFloat64
	KindBool
	KindString
	KindBuffer
)

var kindNames = map[Kind]string{
	KindUint8:   "uint8",
	KindUint16:  "uint16",
	KindUint32:  "uint32",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindBool:    "bool",
	KindString:  "string",
	KindBuffer:  "buffer",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ByteOrder of a multi-byte numeric kind.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big"
	}
	return "little"
}

// Type is a type descriptor: kind, size and byte order.
//
// Length only applies to KindString and KindBuffer. For strings a zero Length
// means a one-byte length prefix; for buffers it means "the rest of the payload".
type Type struct {
	Kind   Kind
	Length int
	Order  ByteOrder
}

var (
	Uint8   = Type{Kind: KindUint8}
	Uint16  = Type{Kind: KindUint16}
	Uint32  = Type{Kind: KindUint32}
	Int8    = Type{Kind: KindInt8}
	Int16   = Type{Kind: KindInt16}
	Int32   = Type{Kind: KindInt32}
	Float32 = Type{Kind: KindFloat32}
	Float64 = Type{Kind: KindFloat64}
	Bool    = Type{Kind: KindBool}
)

// String returns a string descriptor. n > 0 is a fixed-length, zero padded
// field; n == 0 is prefixed with a one-byte length.
func String(n int) Type {
	return Type{Kind: KindString, Length: n}
}

// Buffer returns a raw byte descriptor. n == 0 consumes the remaining payload.
func Buffer(n int) Type {
	return Type{Kind: KindBuffer, Length: n}
}

// Endian rewraps a fixed-width numeric type with the given byte order
// ("big" or "little").
func Endian(t Type, order string) (Type, error) {
	if !t.IsNumeric() {
		return Type{}, fmt.Errorf("endian: %s is not a fixed-width numeric type", t)
	}
	switch strings.ToLower(order) {
	case "big", "be":
		t.Order = BigEndian
	case "little", "le":
		t.Order = LittleEndian
	default:
		return Type{}, fmt.Errorf("endian: unknown byte order %q", order)
	}
	return t, nil
}

// IsNumeric reports whether t is one of the fixed-width numeric kinds.
func (t Type) IsNumeric() bool {
	switch t.Kind {
	case KindUint8, KindUint16, KindUint32, KindInt8, KindInt16, KindInt32, KindFloat32, KindFloat64:
		return true
	}
	return false
}

// Size returns the encoded size in bytes, or -1 when the size depends on the value.
func (t Type) Size() int {
	switch t.Kind {
	case KindUint8, KindInt8, KindBool:
		return 1
	case KindUint16, KindInt16:
		return 2
	case KindUint32, KindInt32, KindFloat32:
		return 4
	case KindFloat64:
		return 8
	case KindString, KindBuffer:
		if t.Length > 0 {
			return t.Length
		}
	}
	return -1
}

func (t Type) String() string {
	switch t.Kind {
	case KindString, KindBuffer:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Length)
	}
	if t.Order == BigEndian && t.Size() > 1 {
		return t.Kind.String() + "be"
	}
	return t.Kind.String()
}

// ParseType parses the textual form produced by Type.String, plus a few
// aliases: "u8", "i16le", "double", "string:8", "buffer".
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	if base, arg, ok := splitLength(name); ok {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return Type{}, fmt.Errorf("invalid length in type %q", s)
		}
		switch base {
		case "string", "str":
			return String(n), nil
		case "buffer", "bytes":
			return Buffer(n), nil
		}
		return Type{}, fmt.Errorf("type %q does not take a length", s)
	}

	switch name {
	case "string", "str":
		return String(0), nil
	case "buffer", "bytes":
		return Buffer(0), nil
	case "bool", "boolean":
		return Bool, nil
	}

	if t, ok := numericNames[name]; ok {
		return t, nil
	}
	for suffix, order := range map[string]ByteOrder{"be": BigEndian, "le": LittleEndian} {
		if t, ok := numericNames[strings.TrimSuffix(name, suffix)]; ok && strings.HasSuffix(name, suffix) {
			t.Order = order
			return t, nil
		}
	}
	return Type{}, fmt.Errorf("unknown type %q", s)
}

var numericNames = map[string]Type{
	"uint8": Uint8, "u8": Uint8,
	"uint16": Uint16, "u16": Uint16,
	"uint32": Uint32, "u32": Uint32,
	"int8": Int8, "i8": Int8,
	"int16": Int16, "i16": Int16,
	"int32": Int32, "i32": Int32,
	"float32": Float32, "float": Float32, "f32": Float32,
	"float64": Float64, "double": Float64, "f64": Float64,
}

func splitLength(name string) (string, string, bool) {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i], name[i+1:], true
	}
	if strings.HasSuffix(name, ")") {
		if i := strings.IndexByte(name, '('); i > 0 {
			return name[:i], name[i+1 : len(name)-1], true
		}
	}
	return "", "", false
}
