// Package engine builds the per-characteristic script handles for a profile
// and routes GATT operations to them.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsim/internal/bledb"
	"github.com/srg/gattsim/internal/logsink"
	"github.com/srg/gattsim/internal/preset"
	"github.com/srg/gattsim/internal/profile"
	"github.com/srg/gattsim/internal/script"
)

// DefaultSentinel is returned whenever a route produces no real result.
const DefaultSentinel = "No Execution"

// PresetLoader supplies preset sources at build time.
type PresetLoader interface {
	Load(id uuid.UUID) (*preset.Preset, error)
}

// SinkFactory returns the script log sink for a characteristic.
type SinkFactory func(characteristic string) logsink.Sink

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *logrus.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithSinkFactory(f SinkFactory) Option {
	return func(r *Registry) { r.sinks = f }
}

// WithInstructionLimit bounds each script call; zero disables the limit.
func WithInstructionLimit(n int) Option {
	return func(r *Registry) { r.limit = n }
}

func WithSentinel(s string) Option {
	return func(r *Registry) {
		if s != "" {
			r.sentinel = []byte(s)
		}
	}
}

// WithClock overrides the time source used for the app start time.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry maps characteristic UUIDs to handles. Build, destroy and route
// are serialized by the registry lock; script calls are serialized per handle.
type Registry struct {
	mu       sync.RWMutex
	loader   PresetLoader
	logger   *logrus.Logger
	sinks    SinkFactory
	limit    int
	sentinel []byte
	now      func() time.Time

	handles   *hashmap.Map[string, *Handle]
	chars     map[string]profile.Characteristic
	order     []string
	stopHooks []func()
	appStart  time.Time
}

func NewRegistry(loader PresetLoader, opts ...Option) *Registry {
	r := &Registry{
		loader:   loader,
		logger:   logrus.StandardLogger(),
		limit:    script.DefaultInstructionLimit,
		sentinel: []byte(DefaultSentinel),
		now:      time.Now,
		handles:  hashmap.New[string, *Handle](),
		chars:    make(map[string]profile.Characteristic),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sinks == nil {
		r.sinks = func(string) logsink.Sink { return logsink.Discard }
	}
	return r
}

// OnTeardown registers fn to run before handles are released, e.g. to stop
// notification timers.
func (r *Registry) OnTeardown(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopHooks = append(r.stopHooks, fn)
}

// Sentinel returns a copy of the sentinel payload.
func (r *Registry) Sentinel() []byte {
	return append([]byte{}, r.sentinel...)
}

// AppStart is the time the current stack was built.
func (r *Registry) AppStart() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appStart
}

// BuildStack tears down the current stack and builds one for p. Characteristics
// that fail are skipped; the returned error joins their failures.
func (r *Registry) BuildStack(p *profile.Profile) (*BuildReport, error) {
	if p == nil {
		return nil, ErrNoProfile
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardown()
	r.appStart = r.now()

	report := newBuildReport()
	var errs []error

	all := p.Characteristics()
	for _, c := range all {
		report.set(Entry{Characteristic: c.Key(), Name: c.DisplayName()})
	}

	var pending []*profile.Characteristic
	for _, c := range all {
		key := c.Key()
		if _, dup := r.chars[key]; dup {
			r.logger.WithField("characteristic", key).Warn("Duplicate characteristic, skipping")
			continue
		}
		if c.Shared != "" {
			pending = append(pending, c)
			continue
		}
		if err := r.register(c, report); err != nil {
			errs = append(errs, err)
		}
	}

	// Shared characteristics may point at other shared ones; resolve until no progress.
	for len(pending) > 0 {
		var next []*profile.Characteristic
		for _, c := range pending {
			target, ok := r.handles.Get(c.SharedKey())
			if !ok {
				next = append(next, c)
				continue
			}
			r.alias(c, target, report)
		}
		if len(next) == len(pending) {
			break
		}
		pending = next
	}
	for _, c := range pending {
		err := &BuildOrderingError{Characteristic: c.Key(), Shared: c.SharedKey()}
		r.logger.WithFields(logrus.Fields{
			"characteristic": c.Key(),
			"shared":         c.SharedKey(),
		}).Error("Shared characteristic target not registered, skipping")
		report.set(Entry{Characteristic: c.Key(), Name: c.DisplayName(), Outcome: OutcomeFailed, SharedWith: c.SharedKey(), Err: err})
		errs = append(errs, err)
	}

	r.logger.WithFields(logrus.Fields{
		"profile":    p.Name,
		"registered": len(r.order),
		"failed":     len(errs),
	}).Info("Engine stack built")

	return report, errors.Join(errs...)
}

func (r *Registry) register(c *profile.Characteristic, report *BuildReport) error {
	key := c.Key()
	logger := r.logger.WithField("characteristic", key)
	entry := Entry{Characteristic: key, Name: c.DisplayName()}

	if c.Preset == nil {
		if c.Value == nil {
			logger.Debug("Characteristic has no preset and no value, leaving unregistered")
			report.set(entry)
			r.chars[key] = *c
			return nil
		}
		r.insert(c, &Handle{owner: key, static: append([]byte{}, c.Value...), appStart: r.appStart})
		entry.Outcome = OutcomeStatic
		entry.CanRead = true
		report.set(entry)
		return nil
	}

	fail := func(err error) error {
		entry.Outcome = OutcomeFailed
		entry.Err = err
		report.set(entry)
		return err
	}

	entry.Preset = c.Preset.String()
	p, err := r.loader.Load(*c.Preset)
	if err != nil {
		logger.WithError(err).WithField("preset", *c.Preset).Error("Failed to load preset")
		return fail(&PresetLoadError{Characteristic: key, Preset: *c.Preset, Err: err})
	}
	entry.Preset = p.Name

	ctx, err := script.New(p.Code, script.Options{
		Name:             key,
		Sink:             r.sinks(key),
		Logger:           r.logger,
		InstructionLimit: r.limit,
	})
	if err != nil {
		return fail(&ScriptError{Characteristic: key, Err: err})
	}

	h := &Handle{owner: key, preset: p.ID, presetName: p.Name, ctx: ctx, appStart: r.appStart}
	r.insert(c, h)

	entry.Outcome = OutcomeScript
	entry.CanRead = h.CanRead()
	entry.CanWrite = h.CanWrite()
	report.set(entry)

	logger.WithFields(logrus.Fields{
		"preset":    p.Name,
		"can_read":  entry.CanRead,
		"can_write": entry.CanWrite,
	}).Debug("Characteristic engine registered")
	return nil
}

func (r *Registry) alias(c *profile.Characteristic, target *Handle, report *BuildReport) {
	r.insert(c, target)
	_, name := target.Preset()
	report.set(Entry{
		Characteristic: c.Key(),
		Name:           c.DisplayName(),
		Outcome:        OutcomeShared,
		Preset:         name,
		SharedWith:     c.SharedKey(),
		CanRead:        target.CanRead(),
		CanWrite:       target.CanWrite(),
	})
	r.logger.WithFields(logrus.Fields{
		"characteristic": c.Key(),
		"shared":         c.SharedKey(),
	}).Debug("Characteristic shares engine")
}

func (r *Registry) insert(c *profile.Characteristic, h *Handle) {
	key := c.Key()
	h.refs++
	r.handles.Set(key, h)
	r.chars[key] = *c
	r.order = append(r.order, key)
}

// DestroyStack runs the teardown hooks and releases every handle. Calling it
// with nothing built is a no-op.
func (r *Registry) DestroyStack() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardown()
}

func (r *Registry) teardown() {
	if len(r.chars) == 0 && r.handles.Len() == 0 {
		return
	}
	for _, fn := range r.stopHooks {
		fn()
	}
	for _, key := range r.order {
		if h, ok := r.handles.Get(key); ok {
			h.release()
			r.handles.Del(key)
		}
	}
	r.order = nil
	r.chars = make(map[string]profile.Characteristic)
	r.logger.Debug("Engine stack destroyed")
}

// Handle returns the handle registered for a characteristic UUID in any notation.
func (r *Registry) Handle(id string) (*Handle, bool) {
	return r.handles.Get(bledb.NormalizeUUID(id))
}

// Characteristic returns the profile definition of a built characteristic,
// registered or not.
func (r *Registry) Characteristic(id string) (profile.Characteristic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chars[bledb.NormalizeUUID(id)]
	return c, ok
}

// Characteristics returns the registered characteristic UUIDs in build order.
func (r *Registry) Characteristics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Route executes action and always returns a payload: the script result, or
// the sentinel when nothing could be executed.
func (r *Registry) Route(id string, action Action, data []byte) []byte {
	out, err := r.Exec(id, action, data)
	if err != nil {
		return r.Sentinel()
	}
	return out
}

// Exec executes action and reports why nothing ran. A script returning nil
// yields an empty, non-nil payload.
func (r *Registry) Exec(id string, action Action, data []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := bledb.NormalizeUUID(id)
	logger := r.logger.WithFields(logrus.Fields{"characteristic": key, "action": action.String()})

	h, ok := r.handles.Get(key)
	if !ok {
		logger.Warn("No engine found")
		return nil, fmt.Errorf("%w: %s", ErrNoEngine, key)
	}

	var (
		out []byte
		err error
	)
	switch action {
	case ActionRead:
		if !h.CanRead() {
			logger.Warn("Characteristic engine cannot read")
			return nil, script.ErrCapabilityMismatch
		}
		out, err = h.Read()
	case ActionWrite:
		if data == nil {
			logger.Warn("Write without data")
			return nil, ErrMissingData
		}
		if !h.CanWrite() {
			logger.Warn("Characteristic engine cannot write")
			return nil, script.ErrCapabilityMismatch
		}
		out, err = h.Write(data)
	default:
		logger.Warn("Action not supported by the router")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
	}

	if errors.Is(err, script.ErrEmptyResult) {
		return []byte{}, nil
	}
	if err != nil {
		logger.WithError(err).Debug("Script execution failed")
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
