package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// DefaultPollInterval is how often hosts run a poll cycle
const DefaultPollInterval = 50 * time.Millisecond

// ErrHostStopped is returned by Do once Run has returned
var ErrHostStopped = errors.New("host stopped")

// TickFunc runs on the control goroutine after each poll cycle
type TickFunc func(now time.Time, o *Orchestrator)

// Host owns an Orchestrator for headless commands. Every access to the
// orchestrator happens on the goroutine running Run; other goroutines go
// through Do.
type Host struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger
	calls    chan func(*Orchestrator)
	onTick   []TickFunc

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHost creates a host polling every interval
func NewHost(o *Orchestrator, interval time.Duration, logger *slog.Logger) *Host {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Host{
		orch:     o,
		interval: interval,
		logger:   logger.With("component", "host"),
		calls:    make(chan func(*Orchestrator)),
		stopped:  make(chan struct{}),
	}
}

// OnTick registers fn to run after every poll. Call before Run.
func (h *Host) OnTick(fn TickFunc) {
	h.onTick = append(h.onTick, fn)
}

// Run polls until ctx is cancelled. A host runs once; later calls to Do
// fail with ErrHostStopped.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.stopOnce.Do(func() { close(h.stopped) })

	h.logger.Debug("control loop started", "interval", h.interval)
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("control loop stopped")
			return nil
		case fn := <-h.calls:
			fn(h.orch)
		case now := <-ticker.C:
			h.orch.Poll()
			for _, fn := range h.onTick {
				fn(now, h.orch)
			}
		}
	}
}

// Do runs fn on the control goroutine and waits for it to return
func (h *Host) Do(ctx context.Context, fn func(o *Orchestrator)) error {
	done := make(chan struct{})
	call := func(o *Orchestrator) {
		defer close(done)
		fn(o)
	}

	select {
	case h.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHostStopped
	}
	<-done
	return nil
}

// Submit starts a batch from another goroutine and returns a snapshot of it
func (h *Host) Submit(ctx context.Context, req BatchRequest) (*domain.Batch, error) {
	var (
		batch *domain.Batch
		err   error
	)
	if doErr := h.Do(ctx, func(o *Orchestrator) {
		batch, err = o.StartBatch(ctx, req)
		if batch != nil {
			batch = batch.Clone()
		}
	}); doErr != nil {
		return nil, doErr
	}
	return batch, err
}

// WaitBatch polls o on the calling goroutine until the batch finishes. If
// ctx is cancelled first the batch is abandoned.
func WaitBatch(ctx context.Context, o *Orchestrator, batchID string, interval time.Duration) (*domain.Batch, error) {
	b, ok := o.Batch(batchID)
	if !ok {
		return nil, ErrUnknownBatch
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !b.Finished() {
		select {
		case <-ctx.Done():
			if err := o.Abandon(batchID); err != nil {
				return b, err
			}
			return b, ctx.Err()
		case <-ticker.C:
			o.Poll()
		}
	}
	return b, nil
}
