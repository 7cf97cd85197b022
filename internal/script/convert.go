package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/aarzilli/golua/lua"
)

// maxDepth bounds table nesting when converting Lua values; it also stops
// self-referencing tables.
const maxDepth = 64

var errTooDeep = errors.New("table nesting exceeds 64 levels")

// opaque stands for Lua values with no data representation
// (functions, userdata, threads).
type opaque struct{}

// table is a converted Lua table. Exactly one of seq or obj is set; an
// empty table converts to an empty obj.
type table struct {
	seq []any
	obj map[string]any
}

// toGo converts the Lua value at idx into nil, bool, float64, string, opaque
// or *table. The Lua stack is left unchanged.
func toGo(L *lua.State, idx int, depth int) (any, error) {
	if idx < 0 {
		idx = L.GetTop() + idx + 1
	}
	if L.IsNoneOrNil(idx) {
		return nil, nil
	}

	switch L.Type(idx) {
	case lua.LUA_TBOOLEAN:
		return L.ToBoolean(idx), nil
	case lua.LUA_TNUMBER:
		return L.ToNumber(idx), nil
	case lua.LUA_TSTRING:
		return L.ToString(idx), nil
	case lua.LUA_TTABLE:
		if depth >= maxDepth {
			return nil, errTooDeep
		}
		return tableToGo(L, idx, depth)
	}
	return opaque{}, nil
}

func tableToGo(L *lua.State, idx int, depth int) (*table, error) {
	numeric := map[float64]any{}
	named := map[string]any{}
	sequence := true

	L.PushNil()
	for L.Next(idx) != 0 {
		// key at -2, value at -1; never ToString a numeric key in place,
		// lua_tolstring would mutate it and break Next.
		v, err := toGo(L, -1, depth+1)
		if err != nil {
			L.Pop(2)
			return nil, err
		}

		switch L.Type(-2) {
		case lua.LUA_TNUMBER:
			k := L.ToNumber(-2)
			numeric[k] = v
			if k < 1 || k != math.Trunc(k) {
				sequence = false
			}
		case lua.LUA_TSTRING:
			named[L.ToString(-2)] = v
			sequence = false
		case lua.LUA_TBOOLEAN:
			named[strconv.FormatBool(L.ToBoolean(-2))] = v
			sequence = false
		default:
			sequence = false
		}
		L.Pop(1)
	}

	n := len(numeric)
	if sequence && n > 0 {
		seq := make([]any, n)
		for i := 1; i <= n; i++ {
			v, ok := numeric[float64(i)]
			if !ok {
				sequence = false
				break
			}
			seq[i-1] = v
		}
		if sequence {
			return &table{seq: seq}, nil
		}
	}

	for k, v := range numeric {
		named[formatNumber(k)] = v
	}
	return &table{obj: named}, nil
}

// formatNumber renders a Lua number as text: integral values without a
// fraction, everything else in the shortest form that round-trips.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) <= 1<<53:
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// jsonValue maps converted Lua values onto values encoding/json renders
// canonically: NaN and infinities become null, opaque values are dropped
// from objects and become null in arrays.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case opaque:
		return nil
	case *table:
		if x.seq != nil {
			out := make([]any, len(x.seq))
			for i, e := range x.seq {
				out[i] = jsonValue(e)
			}
			return out
		}
		out := make(map[string]any, len(x.obj))
		for k, e := range x.obj {
			if _, skip := e.(opaque); skip {
				continue
			}
			out[k] = jsonValue(e)
		}
		return out
	}
	return v
}

// marshalCanonical renders a converted value as compact JSON with sorted
// object keys and no HTML escaping.
func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jsonValue(v)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// resultBytes applies the return value policy to the value at idx:
// strings pass through as raw bytes, numbers and booleans become text,
// tables become canonical JSON and nil yields ErrEmptyResult.
func resultBytes(L *lua.State, idx int) ([]byte, error) {
	v, err := toGo(L, idx, 0)
	if err != nil {
		return nil, err
	}

	switch x := v.(type) {
	case nil:
		return nil, ErrEmptyResult
	case string:
		return []byte(x), nil
	case float64:
		return []byte(formatNumber(x)), nil
	case bool:
		return []byte(strconv.FormatBool(x)), nil
	case *table:
		return marshalCanonical(x)
	}
	return nil, fmt.Errorf("unsupported return type %s", L.Typename(int(L.Type(idx))))
}

// pushGo pushes a Go value produced by codec or encoding/json.
func pushGo(L *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		L.PushNil()
	case bool:
		L.PushBoolean(x)
	case float64:
		L.PushNumber(x)
	case int64:
		L.PushNumber(float64(x))
	case int:
		L.PushNumber(float64(x))
	case string:
		L.PushString(x)
	case []byte:
		L.PushString(string(x))
	case []any:
		L.NewTable()
		for i, e := range x {
			L.PushInteger(int64(i + 1))
			pushGo(L, e)
			L.SetTable(-3)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		L.NewTable()
		for _, k := range keys {
			L.PushString(k)
			pushGo(L, x[k])
			L.SetTable(-3)
		}
	default:
		L.PushString(fmt.Sprint(x))
	}
}
