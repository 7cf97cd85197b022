package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNoEngine is returned when no handle is registered for a characteristic.
	ErrNoEngine = errors.New("no engine found")
	// ErrUnsupportedAction is returned for actions the router does not execute.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrMissingData is returned for a write without a payload.
	ErrMissingData = errors.New("write requires data")
	// ErrNoProfile is returned when BuildStack is called without a profile.
	ErrNoProfile = errors.New("no profile to build")
)

// PresetLoadError reports a preset that could not be loaded for a characteristic.
type PresetLoadError struct {
	Characteristic string
	Preset         uuid.UUID
	Err            error
}

func (e *PresetLoadError) Error() string {
	return fmt.Sprintf("characteristic %s: failed to load preset %s: %v", e.Characteristic, e.Preset, e.Err)
}

func (e *PresetLoadError) Unwrap() error { return e.Err }

// BuildOrderingError reports a shared reference to a characteristic that never
// got registered.
type BuildOrderingError struct {
	Characteristic string
	Shared         string
}

func (e *BuildOrderingError) Error() string {
	return fmt.Sprintf("characteristic %s: shared target %s is not registered", e.Characteristic, e.Shared)
}

// ScriptError attaches the characteristic to a script load failure.
type ScriptError struct {
	Characteristic string
	Err            error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("characteristic %s: %v", e.Characteristic, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }
