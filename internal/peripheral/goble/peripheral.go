// Package goble exposes a simulated profile through the go-ble peripheral API.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattsim/internal/bledb"
	"github.com/srg/gattsim/internal/engine"
	"github.com/srg/gattsim/internal/peripheral"
	"github.com/srg/gattsim/internal/profile"
)

// DeviceFactory creates the host BLE device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDevice

// notifierSet holds the notifiers of the centrals subscribed to one characteristic.
type notifierSet struct {
	mu        sync.Mutex
	notifiers map[string]ble.Notifier
}

// Peripheral binds a Simulator to the go-ble GATT server. It is also the
// simulator's notification transport.
type Peripheral struct {
	sim       *peripheral.Simulator
	logger    *logrus.Logger
	notifiers *hashmap.Map[string, *notifierSet]
	ctx       context.Context
	dev       ble.Device
}

func NewPeripheral(logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Peripheral{
		logger:    logger,
		notifiers: hashmap.New[string, *notifierSet](),
		ctx:       context.Background(),
	}
}

// Attach sets the simulator that serves GATT requests.
func (p *Peripheral) Attach(sim *peripheral.Simulator) {
	p.sim = sim
}

// DeliverNotification writes data to every central subscribed to the
// characteristic. It reports whether at least one write succeeded.
func (p *Peripheral) DeliverNotification(characteristic string, data []byte) bool {
	set, ok := p.notifiers.Get(characteristic)
	if !ok {
		return false
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	delivered := false
	for central, n := range set.notifiers {
		payload := data
		if c := n.Cap(); c > 0 && len(payload) > c {
			payload = payload[:c]
		}
		if _, err := n.Write(payload); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"characteristic": characteristic,
				"central":        central,
			}).Debug("Notification write failed")
			continue
		}
		delivered = true
	}
	return delivered
}

// Services converts the profile into go-ble services whose handlers route
// through the simulator.
func (p *Peripheral) Services(prof *profile.Profile) ([]*ble.Service, error) {
	var out []*ble.Service
	for _, svc := range prof.Services {
		su, err := ble.Parse(bledb.NormalizeUUID(svc.UUID))
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.UUID, err)
		}
		s := ble.NewService(su)

		for i := range svc.Characteristics {
			c := &svc.Characteristics[i]
			cu, err := ble.Parse(c.Key())
			if err != nil {
				return nil, fmt.Errorf("characteristic %s: %w", c.UUID, err)
			}
			p.addCharacteristic(s.NewCharacteristic(cu), c)
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *Peripheral) addCharacteristic(bc *ble.Characteristic, c *profile.Characteristic) {
	key := c.Key()

	if c.Properties.Has(profile.PropRead) {
		bc.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			p.serveRead(key, req, rsp)
		}))
	}
	if c.Properties.Has(profile.PropWrite) || c.Properties.Has(profile.PropWriteWithoutResponse) {
		bc.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			p.serveWrite(key, req, rsp)
		}))
	}
	notifyHandler := ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		p.serveNotify(key, req, n)
	})
	if c.Properties.Has(profile.PropNotify) {
		bc.HandleNotify(notifyHandler)
	}
	if c.Properties.Has(profile.PropIndicate) {
		bc.HandleIndicate(notifyHandler)
	}

	// Handlers add their own property bits; the profile is authoritative.
	bc.Property = ble.Property(c.Properties)
}

func (p *Peripheral) serveRead(key string, req ble.Request, rsp ble.ResponseWriter) {
	data := p.sim.Read(p.ctx, key)
	if off := req.Offset(); off > 0 {
		if off > len(data) {
			rsp.SetStatus(ble.ErrInvalidOffset)
			return
		}
		data = data[off:]
	}
	if _, err := rsp.Write(data); err != nil {
		p.logger.WithError(err).WithField("characteristic", key).Debug("Read response truncated")
	}
}

func (p *Peripheral) serveWrite(key string, req ble.Request, rsp ble.ResponseWriter) {
	data := req.Data()
	if data == nil {
		data = []byte{}
	}
	result := p.sim.Write(p.ctx, key, data)
	p.logger.WithFields(logrus.Fields{
		"characteristic": key,
		"central":        centralID(req),
		"bytes":          len(data),
		"result_bytes":   len(result),
	}).Debug("Write handled")
}

// serveNotify blocks for the lifetime of the subscription, as go-ble expects.
func (p *Peripheral) serveNotify(key string, req ble.Request, n ble.Notifier) {
	central := centralID(req)
	set, _ := p.notifiers.GetOrInsert(key, &notifierSet{notifiers: make(map[string]ble.Notifier)})

	set.mu.Lock()
	set.notifiers[central] = n
	set.mu.Unlock()

	defer func() {
		set.mu.Lock()
		delete(set.notifiers, central)
		set.mu.Unlock()
		if err := p.sim.Unsubscribe(p.ctx, key, central); err != nil {
			p.logger.WithError(err).WithField("characteristic", key).Debug("Unsubscribe failed")
		}
	}()

	if err := p.sim.Subscribe(p.ctx, key, central); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"characteristic": key,
			"central":        central,
		}).Warn("Subscription refused")
		return
	}

	select {
	case <-n.Context().Done():
	case <-p.ctx.Done():
	}
}

func centralID(req ble.Request) string {
	if req == nil || req.Conn() == nil || req.Conn().RemoteAddr() == nil {
		return "unknown"
	}
	return req.Conn().RemoteAddr().String()
}

// Start builds the engine stack for prof and installs its services on the
// host device.
func (p *Peripheral) Start(ctx context.Context, prof *profile.Profile) (*engine.BuildReport, error) {
	if p.sim == nil {
		return nil, errors.New("no simulator attached")
	}
	p.ctx = ctx

	services, err := p.Services(prof)
	if err != nil {
		return nil, err
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}
	p.dev = dev

	report, buildErr := p.sim.StartAdvertising(ctx, prof)
	if report == nil {
		if err := dev.Stop(); err != nil {
			p.logger.WithError(err).Debug("Stopping BLE device")
		}
		p.dev = nil
		return nil, buildErr
	}

	if err := dev.SetServices(services); err != nil {
		return report, fmt.Errorf("failed to register services: %w", err)
	}
	return report, buildErr
}

// Advertise broadcasts the profile name and primary service UUIDs until ctx
// is done, then stops the simulator stack.
func (p *Peripheral) Advertise(ctx context.Context, prof *profile.Profile) error {
	if p.dev == nil {
		return errors.New("peripheral not started")
	}
	defer p.stop()

	var uuids []ble.UUID
	for _, svc := range prof.Services {
		if !svc.IsPrimary {
			continue
		}
		if u, err := ble.Parse(bledb.NormalizeUUID(svc.UUID)); err == nil {
			uuids = append(uuids, u)
		}
	}
	if len(prof.ManufacturerData) > 0 {
		p.logger.Debug("Manufacturer data is not part of the name and services advertisement")
	}

	p.logger.WithFields(logrus.Fields{
		"name":     prof.LocalName(),
		"services": len(uuids),
	}).Info("Advertising")

	err := p.dev.AdvertiseNameAndServices(ctx, prof.LocalName(), uuids...)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("advertising failed: %w", err)
	}
	return nil
}

func (p *Peripheral) stop() {
	stopCtx := context.Background()
	if err := p.sim.StopAdvertising(stopCtx); err != nil && !errors.Is(err, peripheral.ErrNotAdvertising) {
		p.logger.WithError(err).Debug("Stopping simulator stack")
	}
	if err := p.dev.RemoveAllServices(); err != nil {
		p.logger.WithError(err).Debug("Failed to remove services")
	}
	if err := p.dev.Stop(); err != nil {
		p.logger.WithError(err).Debug("Failed to stop BLE device")
	}
}
