package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/gattsim/internal/codec"
)

// parseTypeHints parses a comma separated list such as "uint16,string(8)".
func parseTypeHints(s string) ([]codec.Type, error) {
	var types []codec.Type
	for _, name := range strings.Split(s, ",") {
		t, err := codec.ParseType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// encodeTypedInput encodes comma separated values with one type hint each.
// The last value keeps any commas, so a trailing string may contain them.
func encodeTypedInput(input string, types []codec.Type) ([]byte, error) {
	fields := strings.SplitN(input, ",", len(types))
	if len(fields) != len(types) {
		return nil, fmt.Errorf("--input has %d value(s), --in-types declares %d", len(fields), len(types))
	}

	values := make([]any, len(types))
	for i, t := range types {
		v, err := valueFromText(fields[i], t)
		if err != nil {
			return nil, fmt.Errorf("value %d (%s): %w", i+1, t, err)
		}
		values[i] = v
	}
	return codec.EncodeAll(values, types)
}

func valueFromText(text string, t codec.Type) (any, error) {
	switch t.Kind {
	case codec.KindString:
		return text, nil
	case codec.KindBuffer:
		return hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(text), " ", ""), "0x"))
	case codec.KindBool:
		return strconv.ParseBool(strings.TrimSpace(text))
	case codec.KindFloat32, codec.KindFloat64:
		return strconv.ParseFloat(strings.TrimSpace(text), 64)
	}
	return strconv.ParseInt(strings.TrimSpace(text), 0, 64)
}

// formatTypedOutput decodes data with the type hints and renders the values
// comma separated; buffers print as hex.
func formatTypedOutput(data []byte, types []codec.Type) (string, error) {
	values, err := codec.DecodeAll(data, types)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case []byte:
			parts[i] = hex.EncodeToString(x)
		case float64:
			parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
		case string:
			parts[i] = strconv.Quote(x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ", "), nil
}
