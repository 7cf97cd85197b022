// Package notify drives periodic notifications for subscribed characteristics.
//
// Each characteristic is Idle until its first subscriber arrives. It then
// owns one ticker goroutine that runs the script's read function at the
// characteristic's interval and hands non-empty results to the transport.
// The last unsubscribe, or StopAll, returns it to Idle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsim/internal/bledb"
	"github.com/srg/gattsim/internal/engine"
	"github.com/srg/gattsim/internal/groutine"
	"github.com/srg/gattsim/internal/profile"
	"github.com/srg/gattsim/internal/script"
)

// ErrNotNotifiable is returned when a characteristic lacks notify and indicate.
var ErrNotNotifiable = errors.New("characteristic does not support notify or indicate")

// Source resolves characteristics to their handles.
type Source interface {
	Handle(id string) (*engine.Handle, bool)
	Characteristic(id string) (profile.Characteristic, bool)
}

// Transport delivers a notification payload to the subscribed centrals.
type Transport interface {
	DeliverNotification(characteristic string, data []byte) bool
}

type settings struct {
	Interval time.Duration `default:"1s"`
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*settings)

// WithInterval sets the interval used when a characteristic has none.
func WithInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.Interval = d
		}
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *settings) { s.Logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.Now = now }
}

type subscription struct {
	centrals  map[string]struct{}
	cancel    context.CancelFunc
	delivered int
	failed    int
}

type Scheduler struct {
	source    Source
	transport Transport
	cfg       settings
	logger    *logrus.Logger

	mu   sync.Mutex
	subs map[string]*subscription
	wg   sync.WaitGroup
}

func NewScheduler(source Source, transport Transport, opts ...Option) *Scheduler {
	cfg := settings{}
	defaults.SetDefaults(&cfg)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		source:    source,
		transport: transport,
		cfg:       cfg,
		logger:    cfg.Logger,
		subs:      make(map[string]*subscription),
	}
}

// Subscribe adds central to the subscribers of a characteristic. The first
// subscriber records the first subscription time and starts the ticker.
// Subscribing twice with the same central is a no-op.
func (s *Scheduler) Subscribe(charID, centralID string) error {
	key := bledb.NormalizeUUID(charID)
	logger := s.logger.WithFields(logrus.Fields{"characteristic": key, "central": centralID})

	c, ok := s.source.Characteristic(key)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrNoEngine, key)
	}
	if !c.Properties.CanNotify() {
		return fmt.Errorf("%w: %s", ErrNotNotifiable, key)
	}
	h, ok := s.source.Handle(key)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrNoEngine, key)
	}
	if !h.CanRead() {
		return fmt.Errorf("%s: %w", key, script.ErrCapabilityMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, exists := s.subs[key]; exists {
		sub.centrals[centralID] = struct{}{}
		logger.WithField("subscribers", len(sub.centrals)).Debug("Central joined active notifications")
		return nil
	}

	h.MarkSubscribed(s.cfg.Now())

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{centrals: map[string]struct{}{centralID: {}}, cancel: cancel}
	s.subs[key] = sub

	interval := c.NotifyInterval(s.cfg.Interval)
	groutine.GoTracked(ctx, &s.wg, "notify-"+key, func(ctx context.Context) {
		s.run(ctx, key, h, interval, sub)
	})

	logger.WithField("interval", interval).Info("Notifications started")
	return nil
}

func (s *Scheduler) run(ctx context.Context, key string, h *engine.Handle, interval time.Duration, sub *subscription) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// select picks at random when cancellation and a tick race
			if ctx.Err() != nil {
				return
			}
			s.tick(key, h, sub)
		}
	}
}

func (s *Scheduler) tick(key string, h *engine.Handle, sub *subscription) {
	data, err := h.Read()
	if err != nil {
		if !errors.Is(err, script.ErrEmptyResult) {
			s.logger.WithError(err).WithField("characteristic", key).Debug("Notification read failed")
		}
		return
	}
	if len(data) == 0 {
		return
	}

	ok := s.transport.DeliverNotification(key, data)

	s.mu.Lock()
	if ok {
		sub.delivered++
	} else {
		sub.failed++
	}
	s.mu.Unlock()

	if !ok {
		s.logger.WithField("characteristic", key).Debug("Notification not delivered")
	}
}

// Unsubscribe removes central. The last subscriber stops the ticker; a tick
// already running completes but no further tick is scheduled.
func (s *Scheduler) Unsubscribe(charID, centralID string) {
	key := bledb.NormalizeUUID(charID)

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[key]
	if !ok {
		return
	}
	delete(sub.centrals, centralID)
	if len(sub.centrals) > 0 {
		return
	}
	sub.cancel()
	delete(s.subs, key)

	s.logger.WithFields(logrus.Fields{
		"characteristic": key,
		"delivered":      sub.delivered,
		"failed":         sub.failed,
	}).Info("Notifications stopped")
}

// UnsubscribeCentral removes central from every characteristic, e.g. on disconnect.
func (s *Scheduler) UnsubscribeCentral(centralID string) {
	for _, key := range s.Characteristics() {
		s.Unsubscribe(key, centralID)
	}
}

// StopAll cancels every ticker and waits for the goroutines to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for key, sub := range s.subs {
		sub.cancel()
		delete(s.subs, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Active reports whether a characteristic is notifying.
func (s *Scheduler) Active(charID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[bledb.NormalizeUUID(charID)]
	return ok
}

// Subscribers returns the sorted central ids subscribed to a characteristic.
func (s *Scheduler) Subscribers(charID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[bledb.NormalizeUUID(charID)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sub.centrals))
	for id := range sub.centrals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Characteristics returns the sorted ids of notifying characteristics.
func (s *Scheduler) Characteristics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.subs))
	for key := range s.subs {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
