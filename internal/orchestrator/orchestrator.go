// Package orchestrator turns a replay directory into conversion batches and
// follows them to completion through a non-blocking poll cycle.
//
// An Orchestrator is owned by one control goroutine (a TUI update loop or a
// Host) and is not safe for concurrent use. Worker goroutines only touch
// their futures and the completion channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/completion"
	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/converter"
	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/notify"
	"github.com/hochfrequenz/replay-orchestrator/internal/outlock"
	"github.com/hochfrequenz/replay-orchestrator/internal/replay"
	"github.com/hochfrequenz/replay-orchestrator/internal/worker"
)

var (
	ErrUnknownBatch = errors.New("unknown batch")
	ErrNoConverter  = errors.New("no converter configured")
)

// Recorder persists batch and job outcomes. Errors are logged, they never
// stop a batch.
type Recorder interface {
	RecordBatch(b *domain.Batch) error
	RecordJob(batchID string, job domain.ReplayJob, status domain.JobStatus, result *domain.ConversionResult) error
	FinishBatch(b *domain.Batch) error
}

// Options configures an Orchestrator
type Options struct {
	Converter  *converter.Invoker
	Run        worker.RunFunc // overrides Converter when set
	Workers    int
	MinBytes   int64
	InputExt   string
	OutputExt  string
	LockOutput bool // hold an advisory lock on each output directory in use

	Logger         *slog.Logger
	Sink           Sink
	Recorder       Recorder
	Notifier       notify.Notifier
	OnSlotsChanged func(active, capacity int) // called on worker goroutines
}

// OptionsFromConfig fills the processing options from the config file
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Converter: converter.New(converter.Config{
			Path:    cfg.Paths.Converter,
			Timeout: cfg.Processing.JobTimeout.Std(),
			Logger:  logger,
		}),
		Workers:    cfg.Processing.Workers,
		MinBytes:   cfg.Processing.MinBytes,
		InputExt:   cfg.Processing.InputExt,
		OutputExt:  cfg.Processing.OutputExt,
		LockOutput: true,
		Logger:     logger,
	}
}

// BatchRequest describes one user-triggered batch
type BatchRequest struct {
	ReplaysDir string
	OutputDir  string
	Reprocess  bool
	Only       []string // when set, restrict the batch to these input paths
}

// PollReport summarises one Poll cycle
type PollReport struct {
	Drained  int
	Resolved int
	Pending  int
	Ignored  int      // results of abandoned batches
	Finished []string // batches that completed in this cycle
}

type batchState struct {
	batch       *domain.Batch
	ctx         context.Context
	cancel      context.CancelFunc
	outstanding int
	locked      bool
}

// Orchestrator coordinates discovery, dispatch and completion of batches
type Orchestrator struct {
	opts     Options
	logger   *slog.Logger
	sink     Sink
	recorder Recorder
	notifier notify.Notifier

	pool    *worker.Pool
	channel *completion.Channel
	ids     domain.IDSequence
	locks   *outlock.Set

	batches  map[string]*batchState
	order    []string
	inFlight map[string]domain.JobID

	notifications sync.WaitGroup
}

// New creates an orchestrator with its own worker pool
func New(opts Options) (*Orchestrator, error) {
	if opts.Run == nil && opts.Converter == nil {
		return nil, ErrNoConverter
	}
	if opts.InputExt == "" {
		opts.InputExt = ".dem"
	}
	if opts.OutputExt == "" {
		opts.OutputExt = ".json"
	}
	if opts.MinBytes == 0 {
		opts.MinBytes = replay.DefaultMinBytes
	}

	o := &Orchestrator{
		opts:     opts,
		logger:   opts.Logger,
		sink:     opts.Sink,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		channel:  completion.New(),
		locks:    outlock.NewSet(),
		batches:  make(map[string]*batchState),
		inFlight: make(map[string]domain.JobID),
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.sink == nil {
		o.sink = NopSink{}
	}
	if o.notifier == nil {
		o.notifier = notify.NoopNotifier{}
	}

	run := opts.Run
	if run == nil {
		run = o.convert
	}
	o.pool = worker.New(opts.Workers, run)
	if opts.OnSlotsChanged != nil {
		o.pool.SetOnSlotsChanged(opts.OnSlotsChanged)
	}
	return o, nil
}

func (o *Orchestrator) convert(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
	return o.opts.Converter.Run(ctx, job.InputPath, filepath.Dir(job.OutputPath), func(stream, line string) {
		o.logger.Debug("converter output", "job", job.ID, "stream", stream, "line", line)
	})
}

// StartBatch discovers the eligible replays of req.ReplaysDir, skips those
// whose output already exists (unless reprocessing) and dispatches the rest.
// It returns as soon as every job is either skipped or queued. Directory
// problems are returned before any job is created.
func (o *Orchestrator) StartBatch(ctx context.Context, req BatchRequest) (*domain.Batch, error) {
	if err := replay.ValidateDir(req.ReplaysDir, false); err != nil {
		return nil, fmt.Errorf("replays directory: %w", err)
	}
	if err := replay.ValidateDir(req.OutputDir, true); err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}

	files, err := replay.FindReplays(req.ReplaysDir, replay.FilterOptions{
		InputExt: o.opts.InputExt,
		MinBytes: o.opts.MinBytes,
	}, o.logger)
	if err != nil {
		return nil, err
	}
	if len(req.Only) > 0 {
		files = restrict(files, req.Only)
	}

	st := &batchState{}
	if o.opts.LockOutput {
		if err := o.locks.Acquire(req.OutputDir); err != nil {
			return nil, err
		}
		st.locked = true
	}

	b := domain.NewBatch(req.ReplaysDir, req.OutputDir, req.Reprocess)
	for _, f := range files {
		if id, busy := o.inFlight[filepath.Clean(f)]; busy {
			o.logger.Info("replay already queued", "file", filepath.Base(f), "job", id)
			continue
		}
		b.AddJob(domain.ReplayJob{
			ID:         o.ids.Next(),
			InputPath:  f,
			OutputPath: domain.OutputPathFor(f, req.OutputDir, o.opts.OutputExt),
		})
	}

	st.batch = b
	st.ctx, st.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.batches[b.ID] = st
	o.order = append(o.order, b.ID)

	o.logger.Info("batch started",
		"batch", b.ShortID(),
		"replays", len(b.Jobs),
		"reprocess", b.Reprocess,
		"output", b.OutputDir,
	)
	o.emit(b, slog.LevelInfo, 0, "", fmt.Sprintf("Processing %d replays from %s", len(b.Jobs), b.ReplaysDir), "")
	if o.recorder != nil {
		if err := o.recorder.RecordBatch(b); err != nil {
			o.logger.Warn("failed to record batch", "batch", b.ShortID(), "error", err)
		}
	}
	o.emitProgress(b)

	for _, job := range b.Jobs {
		if replay.Decide(replay.OutputExists(job.OutputPath), b.Reprocess) == replay.Skip {
			o.skip(st, job)
			continue
		}
		o.dispatch(st, job)
	}

	if b.Progress.Done() {
		o.finalize(st)
	}
	return b, nil
}

func restrict(files, only []string) []string {
	want := make(map[string]bool, len(only))
	for _, p := range only {
		want[filepath.Clean(p)] = true
	}
	var out []string
	for _, f := range files {
		if want[filepath.Clean(f)] {
			out = append(out, f)
		}
	}
	return out
}

func (o *Orchestrator) skip(st *batchState, job domain.ReplayJob) {
	b := st.batch
	o.transition(b, job.ID, domain.StatusSkipped)
	b.Progress.Advance()

	o.logger.Info("replay skipped, output exists", "batch", b.ShortID(), "job", job.ID, "output", job.OutputPath)
	o.emit(b, slog.LevelInfo, job.ID, domain.StatusSkipped,
		fmt.Sprintf("%s: skipped, %s already exists", job.Name(), filepath.Base(job.OutputPath)), "")
	o.record(b, job, domain.StatusSkipped, nil)
	o.emitProgress(b)
}

func (o *Orchestrator) dispatch(st *batchState, job domain.ReplayJob) {
	b := st.batch
	o.transition(b, job.ID, domain.StatusDispatched)

	f := o.pool.Submit(st.ctx, job)
	o.channel.Push(completion.Entry{JobID: job.ID, BatchID: b.ID, Handle: f})
	st.outstanding++
	o.inFlight[filepath.Clean(job.InputPath)] = job.ID

	o.logger.Debug("replay dispatched", "batch", b.ShortID(), "job", job.ID, "file", job.Name())
	o.record(b, job, domain.StatusDispatched, nil)
}

// Poll performs one non-blocking cycle over the completion channel.
// Unfinished entries go back on the channel for the next cycle.
func (o *Orchestrator) Poll() PollReport {
	entries := o.channel.Drain()
	report := PollReport{Drained: len(entries)}
	if len(entries) == 0 {
		return report
	}

	var requeue []completion.Entry
	for _, e := range entries {
		st, known := o.batches[e.BatchID]
		result, done := e.Handle.Result()

		if !known || st.batch.Abandoned {
			if !done {
				requeue = append(requeue, e)
				report.Pending++
				continue
			}
			report.Ignored++
			if known {
				o.settleAbandoned(st, e.JobID)
			}
			continue
		}

		if !done {
			if e.Handle.Started() {
				o.markRunning(st, e.JobID)
			}
			requeue = append(requeue, e)
			report.Pending++
			continue
		}

		o.resolve(st, e.JobID, result)
		report.Resolved++
		if st.batch.Progress.Done() {
			o.finalize(st)
			report.Finished = append(report.Finished, st.batch.ID)
		}
	}
	o.channel.Requeue(requeue...)
	return report
}

func (o *Orchestrator) markRunning(st *batchState, id domain.JobID) {
	b := st.batch
	if b.Statuses[id] != domain.StatusDispatched {
		return
	}
	o.transition(b, id, domain.StatusRunning)

	job, _ := b.Job(id)
	o.logger.Debug("replay converting", "batch", b.ShortID(), "job", id, "file", job.Name())
	o.emit(b, slog.LevelInfo, id, domain.StatusRunning, fmt.Sprintf("%s: converting", job.Name()), "")
	o.record(b, job, domain.StatusRunning, nil)
}

func (o *Orchestrator) resolve(st *batchState, id domain.JobID, result domain.ConversionResult) {
	b := st.batch
	current := b.Statuses[id]
	invariant(!current.IsTerminal(), "job %s of batch %s resolved twice (already %s)", id, b.ShortID(), current)

	status := result.Status()
	o.transition(b, id, status)
	b.Results[id] = result
	b.Progress.Advance()
	st.outstanding--

	job, _ := b.Job(id)
	o.forget(job)

	output := capturedOutput(result)
	if status == domain.StatusCompleted {
		o.logger.Info("replay converted",
			"batch", b.ShortID(),
			"job", id,
			"file", job.Name(),
			"duration", result.Duration.Round(time.Millisecond),
		)
		o.emit(b, slog.LevelInfo, id, status, fmt.Sprintf("%s: converted", job.Name()), output)
	} else {
		o.logger.Warn("replay conversion failed",
			"batch", b.ShortID(),
			"job", id,
			"file", job.Name(),
			"exit_code", result.ExitCode,
			"error", result.Err,
			"stderr", strings.TrimSpace(result.Stderr),
		)
		o.emit(b, slog.LevelError, id, status, failureMessage(job, result), output)
	}

	o.record(b, job, status, &result)
	o.emitProgress(b)
}

func failureMessage(job domain.ReplayJob, result domain.ConversionResult) string {
	if result.ExitCode == domain.LaunchFailedExitCode {
		return fmt.Sprintf("%s: converter did not run: %s", job.Name(), result.Err)
	}
	if result.Err != "" {
		return fmt.Sprintf("%s: failed with exit code %d: %s", job.Name(), result.ExitCode, result.Err)
	}
	return fmt.Sprintf("%s: failed with exit code %d", job.Name(), result.ExitCode)
}

func capturedOutput(result domain.ConversionResult) string {
	stdout := strings.TrimSpace(result.Stdout)
	stderr := strings.TrimSpace(result.Stderr)
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

func (o *Orchestrator) finalize(st *batchState) {
	b := st.batch
	now := time.Now()
	b.FinishedAt = &now

	counts := b.Counts()
	o.logger.Info("batch finished",
		"batch", b.ShortID(),
		"converted", counts[domain.StatusCompleted],
		"skipped", counts[domain.StatusSkipped],
		"failed", counts[domain.StatusFailed],
		"elapsed", now.Sub(b.StartedAt).Round(time.Millisecond),
	)
	level := slog.LevelInfo
	if counts[domain.StatusFailed] > 0 {
		level = slog.LevelWarn
	}
	o.emit(b, level, 0, "", fmt.Sprintf("Done: %d converted, %d skipped, %d failed",
		counts[domain.StatusCompleted], counts[domain.StatusSkipped], counts[domain.StatusFailed]), "")

	o.finishRecord(b)
	o.sendNotification(b)
	st.cancel()
	o.releaseLock(st)
}

// Abandon stops following a batch. Jobs still waiting for a worker slot
// are never launched; conversions already running finish and their results
// are discarded.
func (o *Orchestrator) Abandon(batchID string) error {
	st, ok := o.batches[batchID]
	if !ok {
		return fmt.Errorf("%s: %w", batchID, ErrUnknownBatch)
	}
	b := st.batch
	if b.Finished() {
		return nil
	}

	now := time.Now()
	b.Abandoned = true
	b.FinishedAt = &now
	st.cancel()

	o.logger.Warn("batch abandoned", "batch", b.ShortID(), "outstanding", st.outstanding)
	o.emit(b, slog.LevelWarn, 0, "", fmt.Sprintf("Batch %s abandoned", b.ShortID()), "")
	o.finishRecord(b)
	o.sendNotification(b)

	if st.outstanding == 0 {
		o.releaseLock(st)
	}
	return nil
}

func (o *Orchestrator) settleAbandoned(st *batchState, id domain.JobID) {
	st.outstanding--
	if job, ok := st.batch.Job(id); ok {
		o.forget(job)
	}
	if st.outstanding == 0 {
		o.releaseLock(st)
	}
}

func (o *Orchestrator) forget(job domain.ReplayJob) {
	key := filepath.Clean(job.InputPath)
	if o.inFlight[key] == job.ID {
		delete(o.inFlight, key)
	}
}

func (o *Orchestrator) releaseLock(st *batchState) {
	if !st.locked {
		return
	}
	st.locked = false
	if err := o.locks.Release(st.batch.OutputDir); err != nil {
		o.logger.Warn("failed to release output lock", "dir", st.batch.OutputDir, "error", err)
	}
}

func (o *Orchestrator) record(b *domain.Batch, job domain.ReplayJob, status domain.JobStatus, result *domain.ConversionResult) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordJob(b.ID, job, status, result); err != nil {
		o.logger.Warn("failed to record job", "batch", b.ShortID(), "job", job.ID, "error", err)
	}
}

func (o *Orchestrator) finishRecord(b *domain.Batch) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.FinishBatch(b); err != nil {
		o.logger.Warn("failed to record batch result", "batch", b.ShortID(), "error", err)
	}
}

func (o *Orchestrator) sendNotification(b *domain.Batch) {
	n := notify.ForBatch(b)
	o.notifications.Add(1)
	go func() {
		defer o.notifications.Done()
		if err := o.notifier.Send(n); err != nil {
			o.logger.Warn("notification failed", "batch", n.BatchID, "error", err)
		}
	}()
}

func (o *Orchestrator) emit(b *domain.Batch, level slog.Level, id domain.JobID, status domain.JobStatus, msg, output string) {
	o.sink.Log(LogEvent{
		Time:    time.Now(),
		Level:   level,
		BatchID: b.ID,
		JobID:   id,
		Status:  status,
		Message: msg,
		Output:  output,
	})
}

func (o *Orchestrator) emitProgress(b *domain.Batch) {
	o.sink.Progress(ProgressEvent{
		BatchID:   b.ID,
		Completed: b.Progress.Completed,
		Total:     b.Progress.Total,
	})
}

func (o *Orchestrator) transition(b *domain.Batch, id domain.JobID, to domain.JobStatus) {
	err := b.SetStatus(id, to)
	invariant(err == nil, "%v", err)
}

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("orchestrator: " + fmt.Sprintf(format, args...))
	}
}

// Batch returns the batch with the given ID
func (o *Orchestrator) Batch(id string) (*domain.Batch, bool) {
	st, ok := o.batches[id]
	if !ok {
		return nil, false
	}
	return st.batch, true
}

// Batches returns every batch in the order they were started
func (o *Orchestrator) Batches() []*domain.Batch {
	out := make([]*domain.Batch, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.batches[id].batch)
	}
	return out
}

// Latest returns the most recently started batch
func (o *Orchestrator) Latest() (*domain.Batch, bool) {
	if len(o.order) == 0 {
		return nil, false
	}
	return o.batches[o.order[len(o.order)-1]].batch, true
}

// Idle returns true when no batch is in progress and nothing is queued
func (o *Orchestrator) Idle() bool {
	for _, st := range o.batches {
		if !st.batch.Finished() {
			return false
		}
	}
	return o.channel.Len() == 0
}

// ActiveWorkers returns the number of converters currently running
func (o *Orchestrator) ActiveWorkers() int {
	return o.pool.Active()
}

// Capacity returns the worker slot count
func (o *Orchestrator) Capacity() int {
	return o.pool.Capacity()
}

// Shutdown stops queued jobs from launching, then waits for running
// converters and pending notifications.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, st := range o.batches {
		st.cancel()
	}

	done := make(chan struct{})
	go func() {
		o.pool.Wait()
		o.notifications.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if lockErr := o.locks.ReleaseAll(); lockErr != nil {
		err = errors.Join(err, lockErr)
	}
	return err
}
