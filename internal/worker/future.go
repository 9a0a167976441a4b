package worker

import (
	"context"
	"sync/atomic"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// Future is the pending result of a submitted job. All query methods are
// non-blocking except Wait.
type Future struct {
	job     domain.ReplayJob
	started atomic.Bool
	done    chan struct{}
	result  domain.ConversionResult
}

func newFuture(job domain.ReplayJob) *Future {
	return &Future{job: job, done: make(chan struct{})}
}

// Job returns the job this future belongs to
func (f *Future) Job() domain.ReplayJob {
	return f.job
}

// Started returns true once the job holds a slot and the converter is
// being launched
func (f *Future) Started() bool {
	return f.started.Load()
}

// Done returns true once the result is available
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the conversion result if the job has finished
func (f *Future) Result() (domain.ConversionResult, bool) {
	if !f.Done() {
		return domain.ConversionResult{}, false
	}
	return f.result, true
}

// Wait blocks until the job finishes or ctx is done
func (f *Future) Wait(ctx context.Context) (domain.ConversionResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return domain.ConversionResult{}, ctx.Err()
	}
}

func (f *Future) markStarted() {
	f.started.Store(true)
}

// resolve publishes the result; the channel close orders the write before
// any reader that observes Done.
func (f *Future) resolve(result domain.ConversionResult) {
	f.result = result
	close(f.done)
}
