package engine

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Outcome describes how a characteristic was resolved during a build.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeScript
	OutcomeShared
	OutcomeStatic
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeScript:
		return "script"
	case OutcomeShared:
		return "shared"
	case OutcomeStatic:
		return "static"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Entry is the build result of one characteristic.
type Entry struct {
	Characteristic string
	Name           string
	Outcome        Outcome
	Preset         string
	SharedWith     string
	CanRead        bool
	CanWrite       bool
	Err            error
}

// BuildReport lists every characteristic of the profile in declaration order.
type BuildReport struct {
	entries *orderedmap.OrderedMap[string, Entry]
}

func newBuildReport() *BuildReport {
	return &BuildReport{entries: orderedmap.New[string, Entry]()}
}

func (r *BuildReport) set(e Entry) {
	r.entries.Set(e.Characteristic, e)
}

// Get returns the entry for a normalized characteristic UUID.
func (r *BuildReport) Get(id string) (Entry, bool) {
	return r.entries.Get(id)
}

func (r *BuildReport) Len() int { return r.entries.Len() }

// Entries returns all entries in declaration order.
func (r *BuildReport) Entries() []Entry {
	out := make([]Entry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Failed returns the entries that could not be registered.
func (r *BuildReport) Failed() []Entry {
	var out []Entry
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Outcome == OutcomeFailed {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Count returns the number of entries with the given outcome.
func (r *BuildReport) Count(o Outcome) int {
	n := 0
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Outcome == o {
			n++
		}
	}
	return n
}

func (r *BuildReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d characteristics: %d script, %d shared, %d static, %d none, %d failed",
		r.Len(), r.Count(OutcomeScript), r.Count(OutcomeShared), r.Count(OutcomeStatic),
		r.Count(OutcomeNone), r.Count(OutcomeFailed))
	return sb.String()
}
