package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattsim/internal/logsink"
	"github.com/srg/gattsim/internal/preset"
	"github.com/srg/gattsim/pkg/config"
)

// app bundles what every command needs.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	presets *preset.Store
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("presets-dir"); dir != "" {
		cfg.PresetsDir = dir
	}
	return cfg, nil
}

// loadApp reads configuration and opens the preset store. quiet lowers the
// default log level for commands that print results.
func loadApp(cmd *cobra.Command, quiet bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	var logger *logrus.Logger
	if quiet {
		logger, err = quietLogger(cmd, cfg)
	} else {
		logger, err = configureLogger(cmd, cfg)
	}
	if err != nil {
		return nil, err
	}

	store, err := preset.NewStore(cfg.PresetsDir, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, presets: store}, nil
}

// scriptLogs carries script console output to the logger and a recent-lines store.
type scriptLogs struct {
	ch      *logsink.Channel
	store   *logsink.Store
	drainer *logsink.Drainer
}

func (a *app) startScriptLogs(ctx context.Context) (*scriptLogs, error) {
	store, err := logsink.NewStore(a.cfg.RecentLogSize)
	if err != nil {
		return nil, err
	}
	ch := logsink.NewChannel(a.cfg.LogBufferSize)
	return &scriptLogs{
		ch:      ch,
		store:   store,
		drainer: logsink.NewDrainer(ctx, ch.C(), a.logger, store),
	}, nil
}

// Sink returns the sink for one characteristic.
func (s *scriptLogs) Sink(characteristic string) logsink.Sink {
	return s.ch.WithSource(characteristic)
}

// Close flushes pending lines and returns the recent ones.
func (s *scriptLogs) Close() []logsink.Record {
	s.drainer.Cancel()
	s.drainer.Wait()
	recs, _ := s.store.Drain()
	return recs
}
