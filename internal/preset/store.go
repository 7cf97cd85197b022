package preset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store persists presets as JSON files in a directory.
type Store struct {
	dir    string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewStore opens (and creates if needed) the presets directory.
func NewStore(dir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create presets directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string { return s.dir }

type entry struct {
	path   string
	preset *Preset
}

// scan reads every preset file; unreadable files are logged and skipped.
func (s *Store) scan() ([]entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}

	var out []entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, f.Name())
		p, err := readFile(path)
		if err != nil {
			s.logger.WithError(err).WithField("file", f.Name()).Warn("Skipping unreadable preset")
			continue
		}
		out = append(out, entry{path: path, preset: p})
	}
	return out, nil
}

func readFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Preset
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed preset %s: %w", filepath.Base(path), err)
	}
	if p.ID == uuid.Nil {
		return nil, fmt.Errorf("malformed preset %s: missing id", filepath.Base(path))
	}
	return &p, nil
}

// List returns all presets sorted by name.
func (s *Store) List() ([]*Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.scan()
	if err != nil {
		return nil, err
	}
	out := make([]*Preset, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.preset)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// find locates a preset by exact id, and falls back to the file name prefix
// convention when the file is not where its id says it should be.
func (s *Store) find(id uuid.UUID) (entry, error) {
	matches, _ := filepath.Glob(filepath.Join(s.dir, id.String()+"_*.json"))
	for _, path := range matches {
		if p, err := readFile(path); err == nil && p.ID == id {
			return entry{path: path, preset: p}, nil
		}
	}

	entries, err := s.scan()
	if err != nil {
		return entry{}, err
	}
	for _, e := range entries {
		if e.preset.ID == id {
			return e, nil
		}
	}
	return entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Load returns the preset with the given id.
func (s *Store) Load(id uuid.UUID) (*Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return e.preset, nil
}

// Resolve finds a preset by full id, unique id prefix or exact name.
func (s *Store) Resolve(ref string) (*Preset, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.Load(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.scan()
	if err != nil {
		return nil, err
	}

	var found []*Preset
	for _, e := range entries {
		if e.preset.Name == ref || strings.HasPrefix(e.preset.ID.String(), strings.ToLower(ref)) {
			found = append(found, e.preset)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAmbiguous, ref)
}

// Save writes p, replacing any previous version. A renamed preset has its
// old file removed. Names must be unique.
func (s *Store) Save(p *Preset) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.scan()
	if err != nil {
		return err
	}
	var previous string
	for _, e := range entries {
		if e.preset.ID == p.ID {
			previous = e.path
			continue
		}
		if e.preset.Name == p.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preset: %w", err)
	}

	target := filepath.Join(s.dir, p.FileName())
	if err := writeFileAtomic(target, data); err != nil {
		return err
	}
	if previous != "" && previous != target {
		if err := os.Remove(previous); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove old preset file: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{"preset": p.ID, "name": p.Name}).Debug("Preset saved")
	return nil
}

// Create validates and stores a new preset.
func (s *Store) Create(name, code, description string) (*Preset, error) {
	p, err := New(name, code, description)
	if err != nil {
		return nil, err
	}
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Rename changes a preset's name and moves its file, keeping the id.
func (s *Store) Rename(id uuid.UUID, name string) (*Preset, error) {
	p, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	renamed := *p
	renamed.Name = name
	if err := s.Save(&renamed); err != nil {
		return nil, err
	}
	return &renamed, nil
}

// Delete removes the preset file.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.find(id)
	if err != nil {
		return err
	}
	if err := os.Remove(e.path); err != nil {
		return fmt.Errorf("failed to delete preset %s: %w", id, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preset-*")
	if err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save preset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
