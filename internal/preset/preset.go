// Package preset stores named Lua scripts that back characteristics.
//
// Each preset lives in its own file named {uuid}_{name}.json inside the
// presets directory, so renaming a preset keeps its identity.
package preset

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("preset not found")
	ErrInvalidName   = errors.New("invalid preset name")
	ErrDuplicateName = errors.New("a preset with that name already exists")
	ErrAmbiguous     = errors.New("preset reference matches more than one preset")
)

type Preset struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
}

// New creates a preset with a fresh identifier after validating its name.
func New(name, code, description string) (*Preset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Preset{ID: uuid.New(), Name: name, Code: code, Description: description}, nil
}

// FileName is the on-disk name of the preset.
func (p *Preset) FileName() string {
	return fmt.Sprintf("%s_%s.json", p.ID, p.Name)
}

// ValidateName accepts non-empty names made of letters, '-' and '_'.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != '-' && r != '_' {
			return fmt.Errorf("%w: %q (letters, '-' and '_' only)", ErrInvalidName, name)
		}
	}
	return nil
}
