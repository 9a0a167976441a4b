package observer

import (
	"testing"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newObserver(threshold time.Duration) (*Observer, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	obs := New(threshold)
	obs.now = c.now
	return obs, c
}

func job(id domain.JobID, name string) domain.ReplayJob {
	return domain.ReplayJob{ID: id, InputPath: "/replays/" + name}
}

func TestObserver_DetectStuck(t *testing.T) {
	obs, c := newObserver(5 * time.Minute)
	obs.RecordJob("b", job(1, "slow.dem"), domain.StatusRunning, nil)

	c.t = c.t.Add(10 * time.Minute)
	stuck := obs.Stuck()
	if len(stuck) != 1 || stuck[0].Name != "slow.dem" {
		t.Fatalf("Stuck() = %+v, want slow.dem", stuck)
	}
	if stuck[0].Running != 10*time.Minute {
		t.Errorf("Running = %v, want 10m", stuck[0].Running)
	}
}

func TestObserver_NotStuck(t *testing.T) {
	obs, c := newObserver(5 * time.Minute)
	obs.RecordJob("b", job(1, "quick.dem"), domain.StatusRunning, nil)

	c.t = c.t.Add(2 * time.Minute)
	if stuck := obs.Stuck(); len(stuck) != 0 {
		t.Errorf("job running for 2 minutes should not be stuck: %+v", stuck)
	}

	c.t = c.t.Add(10 * time.Minute)
	obs.RecordJob("b", job(1, "quick.dem"), domain.StatusCompleted, &domain.ConversionResult{})
	if stuck := obs.Stuck(); len(stuck) != 0 {
		t.Errorf("finished job reported stuck: %+v", stuck)
	}
}

func TestObserver_AbandonedBatchStopsRunning(t *testing.T) {
	obs, _ := newObserver(time.Minute)
	b := domain.NewBatch("in", "out", false)
	b.AddJob(job(1, "a.dem"))
	obs.RecordJob(b.ID, b.Jobs[0], domain.StatusRunning, nil)

	b.Abandoned = true
	obs.FinishBatch(b)
	if m := obs.GetMetrics(); m.Running != 0 {
		t.Errorf("Running = %d, want 0 after abandon", m.Running)
	}
}

func TestObserver_Metrics(t *testing.T) {
	obs, _ := newObserver(0)

	obs.RecordJob("b", job(1, "a.dem"), domain.StatusCompleted, &domain.ConversionResult{Duration: 5 * time.Minute})
	obs.RecordJob("b", job(2, "b.dem"), domain.StatusFailed, &domain.ConversionResult{ExitCode: 1, Duration: 10 * time.Minute})
	obs.RecordJob("b", job(3, "c.dem"), domain.StatusSkipped, nil)
	obs.RecordJob("b", job(4, "d.dem"), domain.StatusDispatched, nil)

	metrics := obs.GetMetrics()
	if metrics.TotalConverted != 1 || metrics.TotalFailed != 1 || metrics.TotalSkipped != 1 {
		t.Errorf("totals = %+v", metrics)
	}
	if metrics.AvgDuration != 7*time.Minute+30*time.Second {
		t.Errorf("AvgDuration = %v, want 7m30s", metrics.AvgDuration)
	}
	if obs.Stuck() != nil {
		t.Error("zero threshold should disable stuck detection")
	}
	if recent := obs.RecentCompletions(time.Hour); len(recent) != 3 {
		t.Errorf("RecentCompletions() = %v, want 3 jobs", recent)
	}
}
