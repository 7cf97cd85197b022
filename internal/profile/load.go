package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format of a serialized profile.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format by file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Parse decodes and validates a profile. A missing version is treated as
// the current schema version.
func Parse(data []byte, format Format) (*Profile, error) {
	var p Profile
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if err := checkVersion(p.Version); err != nil {
		return nil, err
	}
	if p.Version == "" {
		p.Version = SchemaVersion
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a profile from a .json, .yaml or .yml file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Marshal encodes the profile in the given format.
func (p *Profile) Marshal(format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(p)
	}
	return json.MarshalIndent(p, "", "  ")
}

// Save writes the profile to path, replacing the file atomically.
func (p *Profile) Save(path string) error {
	if p.Version == "" {
		p.Version = SchemaVersion
	}
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := p.Marshal(FormatFromPath(path))
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
