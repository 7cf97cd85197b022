package codec

import (
	"errors"
	"fmt"
)

var (
	ErrTypeMismatch = errors.New("value does not match type")
	ErrOutOfRange   = errors.New("value out of range")
	ErrTooLong      = errors.New("value exceeds declared length")
	ErrShortBuffer  = errors.New("buffer too short")
	ErrInvalidUTF8  = errors.New("invalid UTF-8")
	ErrEmbeddedNUL  = errors.New("fixed-length string contains a NUL byte")
	ErrShortValue   = errors.New("value shorter than declared length")
)

// EncodingError reports a value that cannot be represented by a type descriptor.
type EncodingError struct {
	Type  Type
	Value any
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %v as %s: %v", e.Value, e.Type, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// DecodingError reports a payload that cannot be decoded as a type descriptor.
type DecodingError struct {
	Type   Type
	Offset int
	Need   int
	Have   int
	Err    error
}

func (e *DecodingError) Error() string {
	if errors.Is(e.Err, ErrShortBuffer) {
		return fmt.Sprintf("decode %s at offset %d: need %d bytes, have %d", e.Type, e.Offset, e.Need, e.Have)
	}
	return fmt.Sprintf("decode %s at offset %d: %v", e.Type, e.Offset, e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}
