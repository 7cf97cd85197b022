// Package profile describes a simulated peripheral: its identity, services
// and characteristics, and which preset (or shared context) backs each
// characteristic.
package profile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/srg/gattsim/internal/bledb"
)

// SchemaVersion is written into every saved profile. Profiles with a newer
// major version are rejected; unknown fields are ignored.
const SchemaVersion = "1.0.0"

var (
	ErrUnsupportedVersion = errors.New("unsupported profile schema version")
	ErrInvalidProfile     = errors.New("invalid profile")
	ErrNotFound           = errors.New("characteristic not found")
)

type Profile struct {
	Version          string    `json:"version" yaml:"version"`
	ID               uuid.UUID `json:"uuid" yaml:"uuid"`
	Name             string    `json:"name" yaml:"name"`
	DeviceName       string    `json:"deviceName,omitempty" yaml:"deviceName,omitempty"`
	Services         []Service `json:"services" yaml:"services"`
	ManufacturerData Value     `json:"manufacturerData,omitempty" yaml:"manufacturerData,omitempty"`
}

type Service struct {
	UUID            string           `json:"uuid" yaml:"uuid"`
	Name            string           `json:"name,omitempty" yaml:"name,omitempty"`
	IsPrimary       bool             `json:"isPrimary" yaml:"isPrimary"`
	Characteristics []Characteristic `json:"characteristics" yaml:"characteristics"`
}

type Characteristic struct {
	UUID       string     `json:"uuid" yaml:"uuid"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	Properties Properties `json:"properties" yaml:"properties"`
	// Value is served on read when no script backs the characteristic.
	Value Value `json:"value,omitempty" yaml:"value,omitempty"`
	// Preset references the script that backs this characteristic.
	Preset *uuid.UUID `json:"preset,omitempty" yaml:"preset,omitempty"`
	// Shared names another characteristic whose script context this one reuses.
	Shared           string `json:"shared,omitempty" yaml:"shared,omitempty"`
	NotifyIntervalMs int    `json:"notifyIntervalMs,omitempty" yaml:"notifyIntervalMs,omitempty"`
}

// New creates an empty profile with a fresh identifier.
func New(name string) *Profile {
	return &Profile{
		Version:    SchemaVersion,
		ID:         uuid.New(),
		Name:       name,
		DeviceName: name,
		Services:   []Service{},
	}
}

// Key is the normalized UUID used for routing.
func (c *Characteristic) Key() string {
	return bledb.NormalizeUUID(c.UUID)
}

// SharedKey is the normalized UUID of the shared target, or "".
func (c *Characteristic) SharedKey() string {
	if c.Shared == "" {
		return ""
	}
	return bledb.NormalizeUUID(c.Shared)
}

// DisplayName falls back to the SIG name and then the UUID.
func (c *Characteristic) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if n := bledb.LookupCharacteristic(c.UUID); n != "" {
		return n
	}
	return c.UUID
}

// NotifyInterval returns the configured interval or def when unset.
func (c *Characteristic) NotifyInterval(def time.Duration) time.Duration {
	if c.NotifyIntervalMs > 0 {
		return time.Duration(c.NotifyIntervalMs) * time.Millisecond
	}
	return def
}

// LocalName is the advertised name.
func (p *Profile) LocalName() string {
	if p.DeviceName != "" {
		return p.DeviceName
	}
	return p.Name
}

// Characteristics flattens all characteristics in declaration order. The
// pointers refer into the profile.
func (p *Profile) Characteristics() []*Characteristic {
	var out []*Characteristic
	for si := range p.Services {
		for ci := range p.Services[si].Characteristics {
			out = append(out, &p.Services[si].Characteristics[ci])
		}
	}
	return out
}

// FindCharacteristic looks up a characteristic by UUID in any notation.
func (p *Profile) FindCharacteristic(id string) (*Characteristic, *Service) {
	key := bledb.NormalizeUUID(id)
	for si := range p.Services {
		svc := &p.Services[si]
		for ci := range svc.Characteristics {
			if svc.Characteristics[ci].Key() == key {
				return &svc.Characteristics[ci], svc
			}
		}
	}
	return nil, nil
}

// UpdateCharacteristic applies fn to the characteristic with the given UUID.
func (p *Profile) UpdateCharacteristic(id string, fn func(*Characteristic)) error {
	c, _ := p.FindCharacteristic(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(c)
	return nil
}

// Validate checks structural invariants and reports every violation.
func (p *Profile) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidProfile}, args...)...))
	}

	if err := checkVersion(p.Version); err != nil {
		errs = append(errs, err)
	}
	if p.ID == uuid.Nil {
		fail("missing profile uuid")
	}

	services := map[string]bool{}
	chars := map[string]bool{}
	for _, svc := range p.Services {
		key := bledb.NormalizeUUID(svc.UUID)
		if !bledb.IsValidUUID(svc.UUID) {
			fail("service %q has an invalid uuid", svc.UUID)
		} else if services[key] {
			fail("duplicate service %s", svc.UUID)
		}
		services[key] = true

		for _, c := range svc.Characteristics {
			if !bledb.IsValidUUID(c.UUID) {
				fail("characteristic %q has an invalid uuid", c.UUID)
				continue
			}
			if chars[c.Key()] {
				fail("duplicate characteristic %s", c.UUID)
			}
			chars[c.Key()] = true

			if c.Preset != nil && c.Shared != "" {
				fail("characteristic %s declares both preset and shared", c.UUID)
			}
			if c.Shared != "" && c.SharedKey() == c.Key() {
				fail("characteristic %s shares itself", c.UUID)
			}
			if c.NotifyIntervalMs < 0 {
				fail("characteristic %s has a negative notify interval", c.UUID)
			}
		}
	}

	return errors.Join(errs...)
}

func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	major, err := strconv.Atoi(strings.SplitN(v, ".", 2)[0])
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
	current, _ := strconv.Atoi(strings.SplitN(SchemaVersion, ".", 2)[0])
	if major > current {
		return fmt.Errorf("%w: %s (supported %s)", ErrUnsupportedVersion, v, SchemaVersion)
	}
	return nil
}
