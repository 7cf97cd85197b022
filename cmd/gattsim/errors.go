package main

import (
	"errors"
	"strings"

	"github.com/srg/gattsim/internal/preset"
	"github.com/srg/gattsim/internal/profile"
	"github.com/srg/gattsim/internal/script"
)

// FormatUserError turns internal errors into a message fit for the terminal.
func FormatUserError(err error) string {
	var loadErr *script.LoadError
	switch {
	case errors.As(err, &loadErr):
		return "preset script does not load: " + loadErr.Error()
	case errors.Is(err, preset.ErrAmbiguous):
		return err.Error() + " (use a longer id prefix or the full id)"
	case errors.Is(err, preset.ErrNotFound):
		return err.Error() + " (see 'gattsim preset list')"
	case errors.Is(err, profile.ErrUnsupportedVersion):
		return err.Error() + " (upgrade gattsim to load this profile)"
	}
	// Joined errors print one per line; keep them on one line for the prefix.
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
