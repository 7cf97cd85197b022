package script

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-1, "-1"},
		{0.1, "0.1"},
		{1e15, "1000000000000000"},
		{1 << 53, "9007199254740992"},
		{1e300, "1e+300"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.in))
	}
}

func TestSplitLuaMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		msg  string
		line int
	}{
		{name: "string chunk", raw: `[string "function read()..."]:3: boom`, msg: "boom", line: 3},
		{name: "quoted chunk", raw: `[string "error("x")"]:1: x`, msg: "x", line: 1},
		{name: "with traceback", raw: "[string \"f\"]:2: bad\nstack traceback:\n\t[C]: ?", msg: "bad", line: 2},
		{name: "no location", raw: "plain failure", msg: "plain failure", line: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, line := splitLuaMessage(tt.raw)
			assert.Equal(t, tt.msg, msg)
			assert.Equal(t, tt.line, line)
		})
	}
}

func TestMarshalCanonical(t *testing.T) {
	v := &table{obj: map[string]any{
		"z":    1.0,
		"a":    &table{seq: []any{math.Inf(1), "s", opaque{}}},
		"fn":   opaque{},
		"none": nil,
	}}

	b, err := marshalCanonical(v)
	assert.NoError(t, err)
	assert.Equal(t, `{"a":[null,"s",null],"none":null,"z":1}`, string(b))
}
