package script

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/srg/gattsim/internal/codec"
)

// removedGlobals are base library entries that reach the filesystem or
// compile code at runtime.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

func (c *Context) installSandbox(L *lua.State) {
	L.OpenBase()
	L.OpenString()
	L.OpenTable()
	L.OpenMath()

	for _, name := range removedGlobals {
		L.PushNil()
		L.SetGlobal(name)
	}

	c.registerConsole(L)
	c.registerCodec(L)
	c.registerJSON(L)
	c.registerHelpers(L)
}

// safeFunc converts Go panics inside a built-in into Lua errors so they
// surface through pcall instead of unwinding the host.
func safeFunc(name string, fn lua.LuaGoFunction) lua.LuaGoFunction {
	return func(L *lua.State) int {
		defer func() {
			if r := recover(); r != nil {
				if le, ok := r.(*lua.LuaError); ok {
					panic(le)
				}
				L.RaiseError(fmt.Sprintf("%s: %v", name, r))
			}
		}()
		return fn(L)
	}
}

func setFunc(L *lua.State, name string, fn lua.LuaGoFunction) {
	L.PushString(name)
	L.PushGoFunction(safeFunc(name+"()", fn))
	L.SetTable(-3)
}

// argsText renders the call arguments the way tostring would.
func argsText(L *lua.State, sep string) string {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		switch L.Type(i) {
		case lua.LUA_TNIL:
			parts = append(parts, "nil")
		case lua.LUA_TBOOLEAN:
			parts = append(parts, fmt.Sprint(L.ToBoolean(i)))
		case lua.LUA_TNUMBER:
			parts = append(parts, formatNumber(L.ToNumber(i)))
		case lua.LUA_TSTRING:
			parts = append(parts, L.ToString(i))
		case lua.LUA_TTABLE:
			if v, err := toGo(L, i, 0); err == nil {
				if b, err := marshalCanonical(v); err == nil {
					parts = append(parts, string(b))
					continue
				}
			}
			parts = append(parts, "table")
		default:
			parts = append(parts, L.LTypename(i))
		}
	}
	return strings.Join(parts, sep)
}

func (c *Context) registerConsole(L *lua.State) {
	L.PushGoFunction(safeFunc("print()", func(L *lua.State) int {
		c.sink.Log(argsText(L, "\t"))
		return 0
	}))
	L.SetGlobal("print")

	L.NewTable()
	setFunc(L, "log", func(L *lua.State) int {
		c.sink.Log(argsText(L, " "))
		return 0
	})
	L.SetGlobal("console")
}

// pushDescriptor pushes the Lua form of a codec type: {kind=, length=, endian=}.
func pushDescriptor(L *lua.State, t codec.Type) {
	L.NewTable()
	L.PushString(t.Kind.String())
	L.SetField(-2, "kind")
	L.PushInteger(int64(t.Size()))
	L.SetField(-2, "size")
	if t.Kind == codec.KindString || t.Kind == codec.KindBuffer {
		L.PushInteger(int64(t.Length))
		L.SetField(-2, "length")
	}
	L.PushString(t.Order.String())
	L.SetField(-2, "endian")
}

// descriptorFromGo reads a type descriptor from its Lua form: either a
// descriptor table or a type name such as "uint16be".
func descriptorFromGo(v any) (codec.Type, error) {
	switch x := v.(type) {
	case string:
		return codec.ParseType(x)
	case *table:
		kind, ok := x.obj["kind"].(string)
		if !ok {
			return codec.Type{}, fmt.Errorf("type descriptor has no kind")
		}
		t, err := codec.ParseType(kind)
		if err != nil {
			return codec.Type{}, err
		}
		if n, ok := x.obj["length"].(float64); ok {
			if n < 0 || n != math.Trunc(n) {
				return codec.Type{}, fmt.Errorf("invalid length %v", n)
			}
			t.Length = int(n)
		}
		if order, ok := x.obj["endian"].(string); ok && t.IsNumeric() {
			return codec.Endian(t, order)
		}
		return t, nil
	}
	return codec.Type{}, fmt.Errorf("expected a type descriptor, got %T", v)
}

// isDescriptor reports whether v is a single descriptor rather than a list.
func isDescriptor(v any) bool {
	switch x := v.(type) {
	case string:
		return true
	case *table:
		_, ok := x.obj["kind"]
		return ok
	}
	return false
}

func descriptorList(v any) ([]codec.Type, error) {
	tbl, ok := v.(*table)
	if !ok || (tbl.seq == nil && len(tbl.obj) > 0) {
		return nil, fmt.Errorf("expected a list of type descriptors")
	}
	types := make([]codec.Type, 0, len(tbl.seq))
	for i, e := range tbl.seq {
		t, err := descriptorFromGo(e)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i+1, err)
		}
		types = append(types, t)
	}
	return types, nil
}

func (c *Context) registerCodec(L *lua.State) {
	L.NewTable()

	// codec.encode(values, types) or codec.encode(value, type)
	setFunc(L, "encode", func(L *lua.State) int {
		values, err := toGo(L, 1, 0)
		if err != nil {
			L.RaiseError("codec.encode: " + err.Error())
		}
		types, err := toGo(L, 2, 0)
		if err != nil {
			L.RaiseError("codec.encode: " + err.Error())
		}

		var out []byte
		if isDescriptor(types) {
			t, derr := descriptorFromGo(types)
			if derr != nil {
				L.RaiseError("codec.encode: " + derr.Error())
			}
			out, err = codec.Encode(values, t)
		} else {
			list, derr := descriptorList(types)
			if derr != nil {
				L.RaiseError("codec.encode: " + derr.Error())
			}
			vals, ok := values.(*table)
			if !ok {
				L.RaiseError("codec.encode: expected a list of values")
			}
			seq := vals.seq
			if seq == nil && len(vals.obj) == 0 {
				seq = []any{}
			}
			out, err = codec.EncodeAll(seq, list)
		}
		if err != nil {
			L.RaiseError("codec.encode: " + err.Error())
		}
		L.PushString(string(out))
		return 1
	})

	// codec.decode(bytes, types) or codec.decode(bytes, type)
	setFunc(L, "decode", func(L *lua.State) int {
		if L.Type(1) != lua.LUA_TSTRING {
			L.RaiseError("codec.decode: expected a byte string")
		}
		data := []byte(L.ToString(1))
		types, err := toGo(L, 2, 0)
		if err != nil {
			L.RaiseError("codec.decode: " + err.Error())
		}

		if isDescriptor(types) {
			t, derr := descriptorFromGo(types)
			if derr != nil {
				L.RaiseError("codec.decode: " + derr.Error())
			}
			v, _, derr := codec.Decode(data, t)
			if derr != nil {
				L.RaiseError("codec.decode: " + derr.Error())
			}
			pushGo(L, v)
			return 1
		}

		list, err := descriptorList(types)
		if err != nil {
			L.RaiseError("codec.decode: " + err.Error())
		}
		values, err := codec.DecodeAll(data, list)
		if err != nil {
			L.RaiseError("codec.decode: " + err.Error())
		}
		pushGo(L, values)
		return 1
	})

	L.NewTable()
	for name, t := range map[string]codec.Type{
		"Uint8": codec.Uint8, "Uint16": codec.Uint16, "Uint32": codec.Uint32,
		"Int8": codec.Int8, "Int16": codec.Int16, "Int32": codec.Int32,
		"Float32": codec.Float32, "Double": codec.Float64, "Float64": codec.Float64,
		"Boolean": codec.Bool,
	} {
		pushDescriptor(L, t)
		L.SetField(-2, name)
	}
	setFunc(L, "String", func(L *lua.State) int {
		pushDescriptor(L, codec.String(optLength(L, 1)))
		return 1
	})
	setFunc(L, "Buffer", func(L *lua.State) int {
		pushDescriptor(L, codec.Buffer(optLength(L, 1)))
		return 1
	})
	setFunc(L, "Endian", func(L *lua.State) int {
		v, err := toGo(L, 1, 0)
		if err != nil {
			L.RaiseError("codec.types.Endian: " + err.Error())
		}
		t, err := descriptorFromGo(v)
		if err != nil {
			L.RaiseError("codec.types.Endian: " + err.Error())
		}
		t, err = codec.Endian(t, stringArg(L, 2, "codec.types.Endian"))
		if err != nil {
			L.RaiseError("codec.types.Endian: " + err.Error())
		}
		pushDescriptor(L, t)
		return 1
	})
	L.SetField(-2, "types")

	L.SetGlobal("codec")
}

// stringArg returns argument idx, raising a Lua error when it is not a string.
// luaL_checkstring must not be used from Go callbacks: its error longjmps
// across the Go frame.
func stringArg(L *lua.State, idx int, fn string) string {
	if L.Type(idx) != lua.LUA_TSTRING {
		L.RaiseError(fmt.Sprintf("%s: argument %d must be a string, got %s", fn, idx, L.LTypename(idx)))
	}
	return L.ToString(idx)
}

func optLength(L *lua.State, idx int) int {
	if L.IsNoneOrNil(idx) {
		return 0
	}
	if L.Type(idx) != lua.LUA_TNUMBER {
		L.RaiseError(fmt.Sprintf("invalid length of type %s", L.LTypename(idx)))
	}
	n := L.ToNumber(idx)
	if n < 0 || n != math.Trunc(n) {
		L.RaiseError(fmt.Sprintf("invalid length %v", n))
	}
	return int(n)
}

func (c *Context) registerJSON(L *lua.State) {
	L.NewTable()
	setFunc(L, "encode", func(L *lua.State) int {
		v, err := toGo(L, 1, 0)
		if err != nil {
			L.RaiseError("json.encode: " + err.Error())
		}
		b, err := marshalCanonical(v)
		if err != nil {
			L.RaiseError("json.encode: " + err.Error())
		}
		L.PushString(string(b))
		return 1
	})
	setFunc(L, "decode", func(L *lua.State) int {
		var v any
		if err := json.Unmarshal([]byte(stringArg(L, 1, "json.decode")), &v); err != nil {
			L.RaiseError("json.decode: " + err.Error())
		}
		pushGo(L, v)
		return 1
	})
	L.SetGlobal("json")
}

func (c *Context) registerHelpers(L *lua.State) {
	// bytes(0x01, 0x02) or bytes({0x01, 0x02}) builds a byte string.
	L.PushGoFunction(safeFunc("bytes()", func(L *lua.State) int {
		var nums []any
		if L.GetTop() == 1 && L.Type(1) == lua.LUA_TTABLE {
			v, err := toGo(L, 1, 0)
			if err != nil {
				L.RaiseError("bytes: " + err.Error())
			}
			tbl := v.(*table)
			if len(tbl.obj) > 0 {
				L.RaiseError("bytes: table must be a sequence of numbers")
			}
			nums = tbl.seq
		} else {
			for i := 1; i <= L.GetTop(); i++ {
				if L.Type(i) != lua.LUA_TNUMBER {
					L.RaiseError(fmt.Sprintf("bytes: argument %d must be a number, got %s", i, L.LTypename(i)))
				}
				nums = append(nums, L.ToNumber(i))
			}
		}
		out := make([]byte, 0, len(nums))
		for i, n := range nums {
			f, ok := n.(float64)
			if !ok || f < 0 || f > 255 || f != math.Trunc(f) {
				L.RaiseError(fmt.Sprintf("bytes: element %d is not a byte", i+1))
			}
			out = append(out, byte(f))
		}
		L.PushString(string(out))
		return 1
	}))
	L.SetGlobal("bytes")

	L.PushGoFunction(safeFunc("tohex()", func(L *lua.State) int {
		L.PushString(hex.EncodeToString([]byte(stringArg(L, 1, "tohex"))))
		return 1
	}))
	L.SetGlobal("tohex")

	L.PushGoFunction(safeFunc("now_ms()", func(L *lua.State) int {
		L.PushNumber(float64(time.Now().UnixMilli()))
		return 1
	}))
	L.SetGlobal("now_ms")
}
