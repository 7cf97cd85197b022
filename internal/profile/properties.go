package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Properties is the GATT characteristic property bitmask.
type Properties uint8

const (
	PropBroadcast            Properties = 0x01
	PropRead                 Properties = 0x02
	PropWriteWithoutResponse Properties = 0x04
	PropWrite                Properties = 0x08
	PropNotify               Properties = 0x10
	PropIndicate             Properties = 0x20
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "writeWithoutResponse"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
}

var propertyAliases = map[string]Properties{
	"write-without-response": PropWriteWithoutResponse,
	"write_without_response": PropWriteWithoutResponse,
	"wwr":                    PropWriteWithoutResponse,
}

func (p Properties) Has(flag Properties) bool {
	return p&flag == flag
}

// CanNotify reports whether the characteristic supports notify or indicate.
func (p Properties) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// Names lists the set flags in bit order.
func (p Properties) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	return strings.Join(p.Names(), ",")
}

// ParseProperties accepts a comma or space separated list of property names.
func ParseProperties(s string) (Properties, error) {
	var p Properties
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '|' }) {
		flag, err := parseProperty(field)
		if err != nil {
			return 0, err
		}
		p |= flag
	}
	return p, nil
}

func parseProperty(name string) (Properties, error) {
	for _, pn := range propertyNames {
		if strings.EqualFold(pn.name, name) {
			return pn.flag, nil
		}
	}
	if flag, ok := propertyAliases[strings.ToLower(name)]; ok {
		return flag, nil
	}
	return 0, fmt.Errorf("unknown characteristic property %q", name)
}

func fromList(names []string) (Properties, error) {
	var p Properties
	for _, n := range names {
		flag, err := parseProperty(strings.TrimSpace(n))
		if err != nil {
			return 0, err
		}
		p |= flag
	}
	return p, nil
}

func fromNumber(n float64) (Properties, error) {
	if n < 0 || n > 0xff || n != float64(int(n)) {
		return 0, fmt.Errorf("invalid property bitmask %v", n)
	}
	return Properties(n), nil
}

// MarshalJSON writes the raw bitmask, the format profiles are stored in.
func (p Properties) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(p))
}

// UnmarshalJSON accepts a bitmask, a comma separated string or a list of names.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	switch v := raw.(type) {
	case float64:
		*p, err = fromNumber(v)
	case string:
		*p, err = ParseProperties(v)
	case []any:
		names := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("invalid property %v", e)
			}
			names = append(names, s)
		}
		*p, err = fromList(names)
	case nil:
		*p = 0
	default:
		err = fmt.Errorf("invalid properties %s", string(data))
	}
	return err
}

// MarshalYAML writes the flags as a list of names, which reads better in
// hand-edited files.
func (p Properties) MarshalYAML() (any, error) {
	return p.Names(), nil
}

func (p *Properties) UnmarshalYAML(node *yaml.Node) error {
	var err error
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err = node.Decode(&names); err != nil {
			return err
		}
		*p, err = fromList(names)
	case yaml.ScalarNode:
		var n float64
		if node.Tag == "!!int" || node.Tag == "!!float" {
			if err = node.Decode(&n); err != nil {
				return err
			}
			*p, err = fromNumber(n)
		} else {
			*p, err = ParseProperties(node.Value)
		}
	default:
		err = fmt.Errorf("line %d: invalid properties", node.Line)
	}
	return err
}
