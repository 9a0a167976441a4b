package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/history"
	"github.com/hochfrequenz/replay-orchestrator/internal/logging"
	"github.com/hochfrequenz/replay-orchestrator/internal/notify"
	"github.com/hochfrequenz/replay-orchestrator/internal/observer"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
)

const shutdownTimeout = 30 * time.Second

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolvedConfigPath())
}

// app bundles what every batch-running command needs
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	logClose io.Closer
	store    *history.Store // nil when the history database cannot be opened
	observer *observer.Observer
}

func newApp(cfg *config.Config, quiet bool) (*app, error) {
	logger, closer, err := logging.NewFromConfig(cfg, quiet)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		logClose: closer,
		observer: observer.New(cfg.Processing.StuckAfter.Std()),
	}

	store, err := history.Open(cfg.Store.DatabasePath)
	if err != nil {
		logger.Warn("conversion history disabled", "path", cfg.Store.DatabasePath, "error", err)
	} else {
		a.store = store
	}
	return a, nil
}

func (a *app) newOrchestrator(sink orchestrator.Sink) (*orchestrator.Orchestrator, error) {
	opts := orchestrator.OptionsFromConfig(a.cfg, a.logger)
	opts.Sink = sink

	recorders := orchestrator.MultiRecorder{a.observer}
	if a.store != nil {
		recorders = append(recorders, a.store)
	}
	opts.Recorder = recorders
	opts.Notifier = notify.FromConfig(a.cfg.Notifications)

	return orchestrator.New(opts)
}

// shutdown waits for running converters, bounded by shutdownTimeout
func (a *app) shutdown(o *orchestrator.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.logClose.Close())
	return errors.Join(errs...)
}

// warnStuck returns a tick hook that logs converters running past the
// stuck threshold, at most once per job.
func (a *app) warnStuck() orchestrator.TickFunc {
	warned := make(map[domain.JobID]bool)
	return func(now time.Time, o *orchestrator.Orchestrator) {
		for _, s := range a.observer.Stuck() {
			if warned[s.JobID] {
				continue
			}
			warned[s.JobID] = true
			a.logger.Warn("converter may be stuck", "job", s.JobID.String(), "replay", s.Name, "running", s.Running.Round(time.Second))
		}
	}
}
