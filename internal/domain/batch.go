package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Batch is one user-triggered set of conversion jobs
type Batch struct {
	ID         string
	ReplaysDir string
	OutputDir  string
	Reprocess  bool
	Jobs       []ReplayJob
	Progress   ProgressState
	Statuses   map[JobID]JobStatus
	Results    map[JobID]ConversionResult
	StartedAt  time.Time
	FinishedAt *time.Time
	Abandoned  bool
}

// NewBatch creates an empty batch with a fresh ID
func NewBatch(replaysDir, outputDir string, reprocess bool) *Batch {
	return &Batch{
		ID:         uuid.NewString(),
		ReplaysDir: replaysDir,
		OutputDir:  outputDir,
		Reprocess:  reprocess,
		Statuses:   make(map[JobID]JobStatus),
		Results:    make(map[JobID]ConversionResult),
		StartedAt:  time.Now(),
	}
}

// ShortID returns the first segment of the batch UUID for display
func (b *Batch) ShortID() string {
	if len(b.ID) < 8 {
		return b.ID
	}
	return b.ID[:8]
}

// AddJob appends a pending job to the batch
func (b *Batch) AddJob(job ReplayJob) {
	job.BatchID = b.ID
	b.Jobs = append(b.Jobs, job)
	b.Statuses[job.ID] = StatusPending
	b.Progress.Total = len(b.Jobs)
}

// Job returns the job with the given ID
func (b *Batch) Job(id JobID) (ReplayJob, bool) {
	for _, j := range b.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return ReplayJob{}, false
}

// SetStatus applies a status transition, rejecting edges the lifecycle
// does not allow. Setting the current status again is a no-op.
func (b *Batch) SetStatus(id JobID, to JobStatus) error {
	from, ok := b.Statuses[id]
	if !ok {
		return fmt.Errorf("job %s not in batch %s", id, b.ShortID())
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition for %s: %s -> %s", id, from, to)
	}
	b.Statuses[id] = to
	return nil
}

// Counts returns the number of jobs in each status
func (b *Batch) Counts() map[JobStatus]int {
	counts := make(map[JobStatus]int, len(AllStatuses))
	for _, st := range b.Statuses {
		counts[st]++
	}
	return counts
}

// Finished returns true once every job is terminal
func (b *Batch) Finished() bool {
	return b.FinishedAt != nil
}

// Clone returns a deep copy that is safe to hand to another goroutine
func (b *Batch) Clone() *Batch {
	c := *b
	c.Jobs = append([]ReplayJob(nil), b.Jobs...)
	c.Statuses = make(map[JobID]JobStatus, len(b.Statuses))
	for id, st := range b.Statuses {
		c.Statuses[id] = st
	}
	c.Results = make(map[JobID]ConversionResult, len(b.Results))
	for id, r := range b.Results {
		c.Results[id] = r
	}
	if b.FinishedAt != nil {
		t := *b.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
