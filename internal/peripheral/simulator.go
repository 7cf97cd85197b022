// Package peripheral owns the advertising lifecycle of a simulated device.
//
// Callbacks from the BLE stack arrive on threads the stack owns. They are
// turned into Events and consumed by a single dispatcher goroutine, which is
// the only caller of the engine registry's build, route and destroy.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsim/internal/engine"
	"github.com/srg/gattsim/internal/groutine"
	"github.com/srg/gattsim/internal/notify"
	"github.com/srg/gattsim/internal/profile"
)

var (
	ErrNotRunning     = errors.New("simulator is not running")
	ErrNotAdvertising = errors.New("simulator is not advertising")
)

// Options configures a Simulator.
type Options struct {
	Logger           *logrus.Logger
	Sinks            engine.SinkFactory
	NotifyInterval   time.Duration `default:"1s"`
	InstructionLimit int           `default:"10000000"`
	Sentinel         string        `default:"No Execution"`
	QueueSize        int           `default:"64"`
}

type Simulator struct {
	registry  *engine.Registry
	scheduler *notify.Scheduler
	logger    *logrus.Logger
	events    chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	current *profile.Profile
}

// NewSimulator wires a registry and a notification scheduler delivering to transport.
func NewSimulator(loader engine.PresetLoader, transport notify.Transport, opts Options) (*Simulator, error) {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.NotifyInterval <= 0 {
		return nil, fmt.Errorf("invalid notify interval %s: must be positive", opts.NotifyInterval)
	}

	registry := engine.NewRegistry(loader,
		engine.WithLogger(opts.Logger),
		engine.WithSinkFactory(opts.Sinks),
		engine.WithInstructionLimit(opts.InstructionLimit),
		engine.WithSentinel(opts.Sentinel),
	)
	scheduler := notify.NewScheduler(registry, transport,
		notify.WithLogger(opts.Logger),
		notify.WithInterval(opts.NotifyInterval),
	)
	registry.OnTeardown(scheduler.StopAll)

	return &Simulator{
		registry:  registry,
		scheduler: scheduler,
		logger:    opts.Logger,
		events:    make(chan Event, opts.QueueSize),
	}, nil
}

func (s *Simulator) Registry() *engine.Registry { return s.registry }

func (s *Simulator) Scheduler() *notify.Scheduler { return s.scheduler }

// Start launches the dispatcher. It stops when ctx is cancelled or Close is called.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	groutine.GoTracked(ctx, &s.wg, "peripheral-dispatcher", func(ctx context.Context) {
		defer close(done)
		s.dispatch(ctx)
	})
}

// Close stops advertising and the dispatcher.
func (s *Simulator) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Simulator) dispatch(ctx context.Context) {
	defer func() {
		s.stop()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		s.logger.Debug("Peripheral dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case ev := <-s.events:
			ev.reply(s.handle(ev))
		}
	}
}

// drain answers queued events so no submitter waits forever.
func (s *Simulator) drain() {
	for {
		select {
		case ev := <-s.events:
			ev.reply(Result{Err: ErrNotRunning})
		default:
			return
		}
	}
}

func (s *Simulator) handle(ev Event) Result {
	logger := s.logger.WithFields(logrus.Fields{
		"event":          ev.Type.String(),
		"characteristic": ev.Characteristic,
	})
	logger.Trace("Dispatching peripheral event")

	switch ev.Type {
	case EventStart:
		report, err := s.registry.BuildStack(ev.Profile)
		if report == nil {
			return Result{Err: err}
		}
		s.current = ev.Profile
		if err != nil {
			logger.WithError(err).Warn("Some characteristics have no behavior")
		}
		return Result{Report: report, Err: err}

	case EventStop:
		if s.current == nil {
			return Result{Err: ErrNotAdvertising}
		}
		s.stop()
		return Result{}

	case EventRead:
		return Result{Data: s.registry.Route(ev.Characteristic, engine.ActionRead, nil)}

	case EventWrite:
		action := ev.Action
		if action == engine.ActionRead {
			action = engine.ActionWrite
		}
		return Result{Data: s.registry.Route(ev.Characteristic, action, ev.Data)}

	case EventSubscribe:
		if err := s.scheduler.Subscribe(ev.Characteristic, ev.Central); err != nil {
			logger.WithError(err).Warn("Subscription rejected")
			return Result{Err: err}
		}
		return Result{}

	case EventUnsubscribe:
		s.scheduler.Unsubscribe(ev.Characteristic, ev.Central)
		return Result{}
	}

	logger.Warn("Unknown peripheral event")
	return Result{Err: errors.New("unknown event " + ev.Type.String())}
}

// stop cancels notifications before releasing the engine stack.
func (s *Simulator) stop() {
	s.scheduler.StopAll()
	s.registry.DestroyStack()
	s.current = nil
}

// Submit queues ev and waits for its result.
func (s *Simulator) Submit(ctx context.Context, ev Event) Result {
	s.mu.Lock()
	done := s.done
	running := s.cancel != nil
	s.mu.Unlock()
	if !running {
		return Result{Err: ErrNotRunning}
	}

	ev.Reply = make(chan Result, 1)
	select {
	case s.events <- ev:
	case <-done:
		return Result{Err: ErrNotRunning}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}

	select {
	case r := <-ev.Reply:
		return r
	case <-done:
		select {
		case r := <-ev.Reply:
			return r
		default:
			return Result{Err: ErrNotRunning}
		}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// StartAdvertising builds the engine stack for p. A non-nil error lists the
// characteristics that were left without behavior; the stack is still usable.
func (s *Simulator) StartAdvertising(ctx context.Context, p *profile.Profile) (*engine.BuildReport, error) {
	r := s.Submit(ctx, Event{Type: EventStart, Profile: p})
	return r.Report, r.Err
}

func (s *Simulator) StopAdvertising(ctx context.Context) error {
	return s.Submit(ctx, Event{Type: EventStop}).Err
}

// Read always returns a payload; the sentinel when nothing ran.
func (s *Simulator) Read(ctx context.Context, characteristic string) []byte {
	r := s.Submit(ctx, Event{Type: EventRead, Characteristic: characteristic})
	if r.Err != nil {
		return s.registry.Sentinel()
	}
	return r.Data
}

func (s *Simulator) Write(ctx context.Context, characteristic string, data []byte) []byte {
	r := s.Submit(ctx, Event{Type: EventWrite, Characteristic: characteristic, Action: engine.ActionWrite, Data: data})
	if r.Err != nil {
		return s.registry.Sentinel()
	}
	return r.Data
}

func (s *Simulator) Subscribe(ctx context.Context, characteristic, central string) error {
	return s.Submit(ctx, Event{Type: EventSubscribe, Characteristic: characteristic, Central: central}).Err
}

func (s *Simulator) Unsubscribe(ctx context.Context, characteristic, central string) error {
	return s.Submit(ctx, Event{Type: EventUnsubscribe, Characteristic: characteristic, Central: central}).Err
}
