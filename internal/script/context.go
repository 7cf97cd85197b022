// Package script runs user-authored Lua presets that answer characteristic
// reads and writes.
//
// A preset defines either or both of:
//
//	function read(app_start_ms, subscription_ms) ... end
//	function write(app_start_ms, subscription_ms, value) ... end
//
// Timestamps are milliseconds since the UNIX epoch; subscription_ms is 0
// until the first central subscribes. value is the raw written payload as a
// Lua string, so value:byte(i) and #value work on binary data.
//
// Return values are converted to bytes as follows: strings are used as-is,
// numbers and booleans become their text form, tables become canonical JSON
// (sequences as arrays, everything else as objects with sorted keys, NaN and
// infinities as null) and nil produces ErrEmptyResult.
package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsim/internal/logsink"
)

const (
	readFunc  = "read"
	writeFunc = "write"

	// DefaultInstructionLimit caps the VM instructions of a single call.
	DefaultInstructionLimit = 10_000_000
)

// Options configures a Context.
type Options struct {
	// Name identifies the context in logs and errors, usually the characteristic UUID.
	Name string
	// Sink receives console.log and print output. Nil discards it.
	Sink logsink.Sink
	// Logger receives load and runtime failures. Nil uses the standard logger.
	Logger *logrus.Logger
	// InstructionLimit bounds each call; zero disables the limit.
	InstructionLimit int
}

// Context is one sandboxed Lua state. All calls into the state are
// serialized by an internal mutex, so a Context may be shared by several
// characteristics and timers.
type Context struct {
	mu       sync.Mutex
	state    *lua.State
	name     string
	source   string
	canRead  bool
	canWrite bool
	limit    int
	sink     logsink.Sink
	logger   *logrus.Logger
}

// New builds a sandbox, evaluates source once and probes for read and write.
// Syntax and evaluation failures are returned as *LoadError.
func New(source string, opts Options) (*Context, error) {
	c := &Context{
		name:   opts.Name,
		source: source,
		limit:  opts.InstructionLimit,
		sink:   opts.Sink,
		logger: opts.Logger,
	}
	if c.sink == nil {
		c.sink = logsink.Discard
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}

	if strings.TrimSpace(source) == "" {
		return nil, c.loadFailed(&LoadError{Name: c.name, Phase: "syntax", Message: "empty script"})
	}

	L := lua.NewState()
	if err := c.load(L, source); err != nil {
		L.Close()
		return nil, c.loadFailed(err)
	}

	c.state = L
	c.canRead = isFunction(L, readFunc)
	c.canWrite = isFunction(L, writeFunc)

	c.logger.WithFields(logrus.Fields{
		"characteristic": c.name,
		"can_read":       c.canRead,
		"can_write":      c.canWrite,
	}).Debug("Script context loaded")
	return c, nil
}

func (c *Context) load(L *lua.State, source string) (err *LoadError) {
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{Name: c.name, Phase: "evaluation", Message: fmt.Sprint(r)}
		}
	}()

	c.installSandbox(L)

	if status := L.LoadString(source); status != 0 {
		msg, line := splitLuaMessage(L.ToString(-1))
		L.Pop(1)
		return &LoadError{Name: c.name, Phase: "syntax", Message: msg, Line: line}
	}

	if c.limit > 0 {
		L.SetExecutionLimit(c.limit)
	}
	if callErr := L.Call(0, 0); callErr != nil {
		msg, line := splitLuaMessage(callErr.Error())
		L.SetTop(0)
		return &LoadError{Name: c.name, Phase: "evaluation", Message: msg, Line: line}
	}
	return nil
}

func (c *Context) loadFailed(err *LoadError) error {
	c.logger.WithFields(logrus.Fields{
		"characteristic": c.name,
		"phase":          err.Phase,
		"line":           err.Line,
	}).Error("Script failed to load: " + err.Message)
	c.sink.Log(err.Error())
	return err
}

func isFunction(L *lua.State, name string) bool {
	L.GetGlobal(name)
	defer L.Pop(1)
	return L.IsFunction(-1)
}

func (c *Context) Name() string { return c.name }

func (c *Context) Source() string { return c.source }

// CanRead reports whether the script defines read.
func (c *Context) CanRead() bool { return c.canRead }

// CanWrite reports whether the script defines write.
func (c *Context) CanWrite() bool { return c.canWrite }

// RunRead invokes read(app_start_ms, subscription_ms).
func (c *Context) RunRead(appStart, subscription time.Time) ([]byte, error) {
	if !c.canRead {
		return nil, ErrCapabilityMismatch
	}
	return c.invoke(readFunc, appStart, subscription, nil)
}

// RunWrite invokes write(app_start_ms, subscription_ms, value) with input as
// a binary-safe Lua string.
func (c *Context) RunWrite(appStart, subscription time.Time, input []byte) ([]byte, error) {
	if !c.canWrite {
		return nil, ErrCapabilityMismatch
	}
	if input == nil {
		input = []byte{}
	}
	return c.invoke(writeFunc, appStart, subscription, input)
}

func (c *Context) invoke(fn string, appStart, subscription time.Time, input []byte) (out []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	L := c.state
	if L == nil {
		return nil, ErrClosed
	}

	defer func() {
		if r := recover(); r != nil {
			L.SetTop(0)
			out, err = nil, c.runtimeFailed(fn, fmt.Sprintf("panic: %v", r))
		}
	}()

	L.SetTop(0)
	if c.limit > 0 {
		L.SetExecutionLimit(c.limit)
	}

	L.GetGlobal(fn)
	if !L.IsFunction(-1) {
		L.SetTop(0)
		return nil, ErrCapabilityMismatch
	}
	L.PushNumber(epochMillis(appStart))
	L.PushNumber(epochMillis(subscription))
	nargs := 2
	if input != nil {
		L.PushString(string(input))
		nargs++
	}

	if callErr := L.Call(nargs, 1); callErr != nil {
		L.SetTop(0)
		return nil, c.runtimeFailed(fn, callErr.Error())
	}

	out, err = resultBytes(L, -1)
	L.SetTop(0)
	if err != nil && !errors.Is(err, ErrEmptyResult) {
		return nil, c.runtimeFailed(fn, err.Error())
	}
	return out, err
}

func (c *Context) runtimeFailed(fn, raw string) error {
	msg, line := splitLuaMessage(raw)
	rerr := &RuntimeError{Name: c.name, Function: fn, Message: msg, Line: line}
	if strings.Contains(raw, executionQuantumExceeded) {
		rerr.Err = ErrExecutionLimit
	}

	c.logger.WithFields(logrus.Fields{
		"characteristic": c.name,
		"function":       fn,
		"line":           line,
	}).Warn("Script runtime error: " + msg)
	c.sink.Log(rerr.Error())
	return rerr
}

// Close releases the Lua state. It is safe to call more than once.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil {
		c.state.Close()
		c.state = nil
	}
}

func epochMillis(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli())
}
