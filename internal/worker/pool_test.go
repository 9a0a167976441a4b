package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

func TestPool_AtMostNConcurrent(t *testing.T) {
	for _, workers := range []int{1, 2, 4} {
		var active, maxActive atomic.Int32
		pool := New(workers, func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return domain.ConversionResult{}
		})

		for i := 1; i <= 12; i++ {
			pool.Submit(context.Background(), domain.ReplayJob{ID: domain.JobID(i)})
		}
		pool.Wait()

		if got := int(maxActive.Load()); got > workers {
			t.Errorf("workers=%d: %d conversions ran at once", workers, got)
		}
		if pool.Peak() > workers {
			t.Errorf("workers=%d: Peak() = %d", workers, pool.Peak())
		}
		if pool.Active() != 0 {
			t.Errorf("workers=%d: Active() = %d after Wait, want 0", workers, pool.Active())
		}
	}
}

func TestPool_SubmitDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	pool := New(1, func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
		<-release
		return domain.ConversionResult{}
	})

	start := time.Now()
	futures := make([]*Future, 5)
	for i := range futures {
		futures[i] = pool.Submit(context.Background(), domain.ReplayJob{ID: domain.JobID(i + 1)})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Submit blocked for %v", elapsed)
	}

	for _, f := range futures {
		if f.Done() {
			t.Error("future resolved before its conversion was released")
		}
		if _, ok := f.Result(); ok {
			t.Error("Result() should report not ready")
		}
	}

	close(release)
	pool.Wait()

	for _, f := range futures {
		res, ok := f.Result()
		if !ok {
			t.Fatal("future not resolved after Wait")
		}
		if res.JobID != f.Job().ID {
			t.Errorf("result JobID = %s, want %s", res.JobID, f.Job().ID)
		}
		if !f.Started() {
			t.Error("resolved future should have started")
		}
	}
}

func TestPool_CancelledBeforeSlot(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	pool := New(1, func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
		runs.Add(1)
		<-release
		return domain.ConversionResult{}
	})

	first := pool.Submit(context.Background(), domain.ReplayJob{ID: 1})
	for !first.Started() {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	queued := pool.Submit(ctx, domain.ReplayJob{ID: 2})
	cancel()

	res, err := queued.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded() || res.ExitCode != domain.LaunchFailedExitCode {
		t.Errorf("cancelled job result = %+v, want launch failure", res)
	}
	if queued.Started() {
		t.Error("cancelled job should never start")
	}

	close(release)
	pool.Wait()
	if runs.Load() != 1 {
		t.Errorf("run called %d times, want 1", runs.Load())
	}
}

func TestPool_OnSlotsChanged(t *testing.T) {
	pool := New(2, func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
		return domain.ConversionResult{}
	})

	var mu sync.Mutex
	var notifications []int
	pool.SetOnSlotsChanged(func(active, capacity int) {
		mu.Lock()
		notifications = append(notifications, active)
		mu.Unlock()
		if capacity != 2 {
			t.Errorf("capacity = %d, want 2", capacity)
		}
	})

	pool.Submit(context.Background(), domain.ReplayJob{ID: 1})
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 0}
	if len(notifications) != len(want) {
		t.Fatalf("got %v notifications, want %v", notifications, want)
	}
	for i := range want {
		if notifications[i] != want[i] {
			t.Errorf("notification[%d] = %d, want %d", i, notifications[i], want[i])
		}
	}
}

func TestNew_MinimumOneWorker(t *testing.T) {
	if got := New(0, nil).Capacity(); got != 1 {
		t.Errorf("Capacity() = %d, want 1", got)
	}
}

func TestFuture_WaitContext(t *testing.T) {
	f := newFuture(domain.ReplayJob{ID: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); err == nil {
		t.Error("Wait should return the context error for an unresolved future")
	}
}
