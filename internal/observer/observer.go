// Package observer keeps running conversion metrics and flags converters
// that have been busy for suspiciously long.
package observer

import (
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// Observer watches job outcomes. It satisfies orchestrator.Recorder.
type Observer struct {
	stuckThreshold time.Duration
	now            func() time.Time

	completions []completion
	running     map[domain.JobID]runningJob
	mu          sync.RWMutex
}

type completion struct {
	JobID       domain.JobID
	Status      domain.JobStatus
	Duration    time.Duration
	CompletedAt time.Time
}

type runningJob struct {
	name    string
	started time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalConverted int           `json:"total_converted"`
	TotalFailed    int           `json:"total_failed"`
	TotalSkipped   int           `json:"total_skipped"`
	Running        int           `json:"running"`
	AvgDuration    time.Duration `json:"avg_duration"`
}

// StuckJob is a conversion running longer than the threshold
type StuckJob struct {
	JobID   domain.JobID  `json:"job_id"`
	Name    string        `json:"name"`
	Running time.Duration `json:"running"`
}

// New creates a new Observer. A zero threshold disables stuck detection.
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		now:            time.Now,
		running:        make(map[domain.JobID]runningJob),
	}
}

// RecordBatch implements orchestrator.Recorder
func (o *Observer) RecordBatch(*domain.Batch) error { return nil }

// FinishBatch implements orchestrator.Recorder. Jobs of an abandoned batch
// stop counting as running.
func (o *Observer) FinishBatch(b *domain.Batch) error {
	if !b.Abandoned {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, j := range b.Jobs {
		delete(o.running, j.ID)
	}
	return nil
}

// RecordJob implements orchestrator.Recorder
func (o *Observer) RecordJob(batchID string, job domain.ReplayJob, status domain.JobStatus, result *domain.ConversionResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case status == domain.StatusRunning:
		o.running[job.ID] = runningJob{name: job.Name(), started: o.now()}
	case status.IsTerminal():
		delete(o.running, job.ID)
		c := completion{JobID: job.ID, Status: status, CompletedAt: o.now()}
		if result != nil {
			c.Duration = result.Duration
		}
		o.completions = append(o.completions, c)
	}
	return nil
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	metrics := Metrics{Running: len(o.running)}
	var totalDuration time.Duration
	var timed int

	for _, c := range o.completions {
		switch c.Status {
		case domain.StatusCompleted:
			metrics.TotalConverted++
		case domain.StatusFailed:
			metrics.TotalFailed++
		case domain.StatusSkipped:
			metrics.TotalSkipped++
			continue
		}
		totalDuration += c.Duration
		timed++
	}

	if timed > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(timed)
	}
	return metrics
}

// Stuck returns the conversions running longer than the threshold, longest
// first
func (o *Observer) Stuck() []StuckJob {
	if o.stuckThreshold <= 0 {
		return nil
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	now := o.now()
	var stuck []StuckJob
	for id, r := range o.running {
		if d := now.Sub(r.started); d > o.stuckThreshold {
			stuck = append(stuck, StuckJob{JobID: id, Name: r.name, Running: d})
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].Running > stuck[j].Running })
	return stuck
}

// RecentCompletions returns the jobs finished within the last since
func (o *Observer) RecentCompletions(since time.Duration) []domain.JobID {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := o.now().Add(-since)
	var result []domain.JobID
	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			result = append(result, c.JobID)
		}
	}
	return result
}
