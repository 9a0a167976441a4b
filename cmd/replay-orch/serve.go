package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/replay-orchestrator/internal/schedule"
	"github.com/hochfrequenz/replay-orchestrator/internal/watch"
	"github.com/hochfrequenz/replay-orchestrator/web/api"
)

var (
	servePort    int
	serveNoWatch bool
)

func init() {
	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Convert new replays as they appear and run scheduled batches",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API with live batch events",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not convert new replays automatically")
	rootCmd.AddCommand(serveCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) baseRequest() orchestrator.BatchRequest {
	return orchestrator.BatchRequest{
		ReplaysDir: a.cfg.Paths.Replays,
		OutputDir:  a.cfg.Paths.Output,
		Reprocess:  a.cfg.Processing.Reprocess,
	}
}

// newHost wires the schedule and stuck-job hooks into a headless host
func (a *app) newHost(o *orchestrator.Orchestrator) (*orchestrator.Host, error) {
	host := orchestrator.NewHost(o, a.cfg.Processing.PollInterval.Std(), a.logger)

	sched, err := schedule.New(a.cfg.Schedules)
	if err != nil {
		return nil, err
	}
	if len(sched.Names()) > 0 {
		host.OnTick(sched.Hook(a.baseRequest(), a.logger))
		for _, name := range sched.Names() {
			a.logger.Info("schedule loaded", "schedule", name)
		}
	}
	host.OnTick(a.warnStuck())
	return host, nil
}

// startWatcher submits a batch whenever new replays settle in the replays
// directory. Already converted replays are skipped by the batch itself.
func (a *app) startWatcher(ctx context.Context, host *orchestrator.Host) (*watch.ReplayWatcher, error) {
	w, err := watch.New(a.cfg.Paths.Replays, a.cfg.Processing.InputExt, func(paths []string) {
		a.logger.Info("new replays detected", "count", len(paths))
		if _, err := host.Submit(ctx, a.baseRequest()); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, orchestrator.ErrHostStopped) {
			a.logger.Warn("batch not started", "error", err)
		}
	}, a.logger)
	if err != nil {
		return nil, err
	}
	if d := a.cfg.Watch.Debounce.Std(); d > 0 {
		w.SetDebounce(d)
	}
	w.Start(ctx)
	return w, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Paths.Replays == "" {
		return errors.New("no replays directory: set paths.replays")
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.newOrchestrator(orchestrator.NopSink{})
	if err != nil {
		return err
	}
	defer a.shutdown(o)

	host, err := a.newHost(o)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	w, err := a.startWatcher(ctx, host)
	if err != nil {
		return err
	}
	defer w.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.Run(ctx) })
	g.Go(func() error {
		// catch up on replays that arrived while nothing was watching
		_, err := host.Submit(ctx, a.baseRequest())
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, orchestrator.ErrHostStopped) {
			a.logger.Warn("initial batch not started", "error", err)
		}
		return nil
	})

	a.logger.Info("watching for replays", "dir", cfg.Paths.Replays)
	return g.Wait()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := api.NewHub()
	o, err := a.newOrchestrator(hub.Sink())
	if err != nil {
		return err
	}
	defer a.shutdown(o)

	host, err := a.newHost(o)
	if err != nil {
		return err
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)

	apiCfg := api.Config{
		Addr:     addr,
		Host:     host,
		Observer: a.observer,
		Hub:      hub,
		Defaults: api.Defaults{
			ReplaysDir: cfg.Paths.Replays,
			OutputDir:  cfg.Paths.Output,
			Reprocess:  cfg.Processing.Reprocess,
		},
		Logger: a.logger,
	}
	if a.store != nil {
		apiCfg.Store = a.store
	}
	server := api.NewServer(apiCfg)

	ctx, stop := signalContext()
	defer stop()

	if !serveNoWatch && cfg.Paths.Replays != "" {
		w, err := a.startWatcher(ctx, host)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.Run(ctx) })
	g.Go(func() error { return server.Start(ctx) })

	fmt.Printf("Web API at http://%s/api/status\n", addr)
	return g.Wait()
}
