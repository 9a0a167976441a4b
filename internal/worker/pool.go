// Package worker runs conversions concurrently with a fixed number of
// slots. Submission never blocks; each job waits for a free slot on its own
// goroutine.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// RunFunc performs one conversion. It is called with a slot held.
type RunFunc func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult

// Pool manages a fixed number of converter slots
type Pool struct {
	capacity int
	sem      *semaphore.Weighted
	run      RunFunc
	group    errgroup.Group

	mu             sync.Mutex
	active         int
	peak           int
	onSlotsChanged func(active, capacity int) // Callback when slots change
}

// New creates a pool with the given number of slots. Fewer than one slot
// is treated as one.
func New(workers int, run RunFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		capacity: workers,
		sem:      semaphore.NewWeighted(int64(workers)),
		run:      run,
	}
}

// SetOnSlotsChanged sets a callback invoked whenever a slot is taken or
// freed. It runs on worker goroutines.
func (p *Pool) SetOnSlotsChanged(callback func(active, capacity int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Submit schedules job and returns its pending result immediately. If ctx
// is cancelled before a slot frees up the job resolves as failed without
// launching anything. A conversion that already holds a slot is not
// interrupted by cancellation.
func (p *Pool) Submit(ctx context.Context, job domain.ReplayJob) *Future {
	f := newFuture(job)
	p.group.Go(func() error {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.resolve(cancelledResult(job, err))
			return nil
		}
		defer p.sem.Release(1)

		// Acquire may succeed on an already-cancelled context.
		if err := ctx.Err(); err != nil {
			f.resolve(cancelledResult(job, err))
			return nil
		}

		p.slotTaken()
		f.markStarted()
		result := p.run(context.WithoutCancel(ctx), job)
		result.JobID = job.ID
		p.slotFreed()

		f.resolve(result)
		return nil
	})
	return f
}

// Wait blocks until every submitted job has resolved
func (p *Pool) Wait() {
	p.group.Wait()
}

// Active returns the number of conversions currently running
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Peak returns the highest number of simultaneously running conversions
func (p *Pool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Capacity returns the number of slots
func (p *Pool) Capacity() int {
	return p.capacity
}

func (p *Pool) slotTaken() {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	callback := p.onSlotsChanged
	active := p.active
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(active, p.capacity)
	}
}

func (p *Pool) slotFreed() {
	p.mu.Lock()
	p.active--
	callback := p.onSlotsChanged
	active := p.active
	p.mu.Unlock()

	if callback != nil {
		callback(active, p.capacity)
	}
}

func cancelledResult(job domain.ReplayJob, err error) domain.ConversionResult {
	now := time.Now()
	return domain.ConversionResult{
		JobID:      job.ID,
		ExitCode:   domain.LaunchFailedExitCode,
		Err:        err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
}
