// Package schedule starts batches from cron expressions configured as
// [[schedule]] entries.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

type entry struct {
	cfg   config.ScheduleConfig
	sched cron.Schedule
}

// Scheduler tracks when each configured schedule last ran
type Scheduler struct {
	mu      sync.RWMutex
	entries map[string]entry
	lastRun map[string]time.Time
	running map[string]bool
}

// New validates the schedules. Runs are counted from now, so a schedule
// whose time passed before startup does not fire immediately.
func New(cfgs []config.ScheduleConfig) (*Scheduler, error) {
	return newAt(cfgs, time.Now())
}

func newAt(cfgs []config.ScheduleConfig, now time.Time) (*Scheduler, error) {
	s := &Scheduler{
		entries: make(map[string]entry),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
	}
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("schedule name is required")
		}
		if _, dup := s.entries[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule %q", cfg.Name)
		}
		sched, err := ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid cron expression: %w", cfg.Name, err)
		}
		s.entries[cfg.Name] = entry{cfg: cfg, sched: sched}
		s.lastRun[cfg.Name] = now
	}
	return s, nil
}

// Names returns the schedule names in sorted order
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the config of a schedule
func (s *Scheduler) Get(name string) (config.ScheduleConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e.cfg, ok
}

// NextRun returns the next time the schedule fires after now
func (s *Scheduler) NextRun(name string, now time.Time) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return e.sched.Next(now)
}

// ShouldRun returns true if the schedule fired since its last run and is
// not running
func (s *Scheduler) ShouldRun(name string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok || s.running[name] {
		return false
	}
	return !e.sched.Next(s.lastRun[name]).After(now)
}

// MarkRunning marks a schedule as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a schedule as done at the given time
func (s *Scheduler) MarkComplete(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = at
}

// Due returns the schedules that should run now and marks them running
func (s *Scheduler) Due(now time.Time) []config.ScheduleConfig {
	var due []config.ScheduleConfig
	for _, name := range s.Names() {
		if s.ShouldRun(name, now) {
			s.MarkRunning(name)
			cfg, _ := s.Get(name)
			due = append(due, cfg)
		}
	}
	return due
}

// Hook returns a tick function that starts a batch for each due schedule
// and marks the schedule complete once its batch has finished.
func (s *Scheduler) Hook(base orchestrator.BatchRequest, logger *slog.Logger) orchestrator.TickFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "schedule")
	active := make(map[string]string)

	return func(now time.Time, o *orchestrator.Orchestrator) {
		for name, batchID := range active {
			if b, ok := o.Batch(batchID); !ok || b.Finished() {
				s.MarkComplete(name, now)
				delete(active, name)
			}
		}

		for _, cfg := range s.Due(now) {
			req := base
			req.Reprocess = cfg.Reprocess

			b, err := o.StartBatch(context.Background(), req)
			if err != nil {
				logger.Warn("scheduled batch did not start", "schedule", cfg.Name, "error", err)
				s.MarkComplete(cfg.Name, now)
				continue
			}
			logger.Info("scheduled batch started", "schedule", cfg.Name, "batch", b.ShortID())
			active[cfg.Name] = b.ID
		}
	}
}
