package profile

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Value is a static byte payload. JSON stores it base64 encoded; YAML stores
// it as a hex string. Both also accept a list of byte values.
type Value []byte

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(v))
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = nil
	case string:
		b, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return fmt.Errorf("invalid base64 value: %w", err)
		}
		*v = b
	case []any:
		b, err := bytesFromList(x)
		if err != nil {
			return err
		}
		*v = b
	default:
		return fmt.Errorf("invalid value %s", string(data))
	}
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	return hex.EncodeToString(v), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s := strings.TrimPrefix(strings.ReplaceAll(node.Value, " ", ""), "0x")
		b, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("line %d: invalid hex value: %w", node.Line, err)
		}
		*v = b
	case yaml.SequenceNode:
		var list []any
		if err := node.Decode(&list); err != nil {
			return err
		}
		b, err := bytesFromList(list)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = b
	default:
		return fmt.Errorf("line %d: invalid value", node.Line)
	}
	return nil
}

func bytesFromList(list []any) ([]byte, error) {
	out := make([]byte, 0, len(list))
	for i, e := range list {
		var n float64
		switch x := e.(type) {
		case float64:
			n = x
		case int:
			n = float64(x)
		default:
			return nil, fmt.Errorf("value element %d is not a number", i)
		}
		if n < 0 || n > 255 || n != float64(int(n)) {
			return nil, fmt.Errorf("value element %d is not a byte", i)
		}
		out = append(out, byte(n))
	}
	return out, nil
}
