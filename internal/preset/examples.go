package preset

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed examples/*.lua
var examples embed.FS

// Examples lists the names of the bundled example scripts.
func Examples() []string {
	entries, _ := fs.ReadDir(examples, "examples")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}

// Example returns the source of a bundled example script.
func Example(name string) (string, error) {
	data, err := examples.ReadFile(path.Join("examples", name+".lua"))
	if err != nil {
		return "", fmt.Errorf("unknown example %q (available: %s)", name, strings.Join(Examples(), ", "))
	}
	return string(data), nil
}

// ExampleDescription returns the leading comment of an example, without the
// comment marker.
func ExampleDescription(name string) string {
	src, err := Example(name)
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(src, "\n")
	if !strings.HasPrefix(first, "--") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(first, "--"))
}
