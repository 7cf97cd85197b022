package logsink

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsim/internal/groutine"
)

const drainTimeout = 100 * time.Millisecond

// Drainer forwards records from a Channel to logrus and, optionally, a Store.
type Drainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
	logger     *logrus.Logger
	store      *Store
}

// NewDrainer starts draining ch in the background. store may be nil.
func NewDrainer(ctx context.Context, ch <-chan Record, logger *logrus.Logger, store *Store) *Drainer {
	d := &Drainer{
		stop:   make(chan struct{}),
		logger: logger,
		store:  store,
	}

	groutine.GoTracked(ctx, &d.wg, "script-log-drainer", func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("Log drainer: panic recovered")
			}
		}()
		defer logger.Debugf("%s: exiting", groutine.Name(ctx))

		for {
			select {
			case rec, ok := <-ch:
				if !ok {
					return
				}
				d.emit(rec)
			case <-d.stop:
				d.drainRemaining(ch, "stop")
				return
			case <-ctx.Done():
				d.drainRemaining(ch, "context-done")
				return
			}
		}
	})

	return d
}

func (d *Drainer) emit(rec Record) {
	entry := d.logger.WithField("source", "script")
	if rec.Source != "" {
		entry = entry.WithField("characteristic", rec.Source)
	}
	entry.Info(rec.Message)

	if d.store != nil {
		if err := d.store.Add(rec); err != nil {
			d.logger.WithError(err).Warn("Log drainer: store write failed")
		}
	}
}

func (d *Drainer) drainRemaining(ch <-chan Record, reason string) {
	deadline := time.After(drainTimeout)
	drained := 0
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			drained++
			d.emit(rec)
		case <-deadline:
			d.logger.WithFields(logrus.Fields{
				"reason":  reason,
				"drained": drained,
			}).Debug("Log drainer: drain timeout reached")
			return
		default:
			if len(ch) == 0 {
				return
			}
		}
	}
}

// Cancel asks the drainer to flush what is buffered and exit.
func (d *Drainer) Cancel() {
	d.cancelOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the drainer goroutine has exited.
func (d *Drainer) Wait() {
	d.wg.Wait()
}
