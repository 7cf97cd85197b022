package script

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrCapabilityMismatch is returned when read or write is invoked on a
	// script that does not define the corresponding function.
	ErrCapabilityMismatch = errors.New("script does not define the requested function")

	// ErrEmptyResult signals that the script returned nil or nothing.
	ErrEmptyResult = errors.New("script returned no value")

	ErrClosed         = errors.New("script context is closed")
	ErrExecutionLimit = errors.New("script exceeded its instruction limit")
)

// LoadError is a syntax or evaluation failure while constructing a Context.
type LoadError struct {
	Name    string
	Phase   string // "syntax" or "evaluation"
	Message string
	Line    int
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("script %s %s error%s: %s", quoteName(e.Name), e.Phase, lineSuffix(e.Line), e.Message)
}

// RuntimeError is a failure raised while running read or write.
type RuntimeError struct {
	Name     string
	Function string
	Message  string
	Line     int
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("script %s: %s()%s: %s", quoteName(e.Name), e.Function, lineSuffix(e.Line), e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func quoteName(name string) string {
	if name == "" {
		return "<anonymous>"
	}
	return strconv.Quote(name)
}

func lineSuffix(line int) string {
	if line <= 0 {
		return ""
	}
	return fmt.Sprintf(" at line %d", line)
}

// luaLocation matches the chunk/line prefix Lua puts on error messages,
// e.g. `[string "function read(a, s)..."]:3: boom`.
var luaLocation = regexp.MustCompile(`(?s)^(?:\[string ".*?"\]|[^:\s]+):(\d+):\s*(.*)$`)

const executionQuantumExceeded = "execution quantum exceeded"

// splitLuaMessage separates the line number from a raw Lua error message.
func splitLuaMessage(raw string) (string, int) {
	msg := strings.TrimSpace(raw)
	if i := strings.Index(msg, "\nstack traceback:"); i >= 0 {
		msg = msg[:i]
	}
	if m := luaLocation.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return m[2], line
	}
	return msg, 0
}
