package orchestrator

import (
	"log/slog"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// ProgressEvent reports batch progress after a job reached a terminal status
type ProgressEvent struct {
	BatchID   string `json:"batch_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Fraction returns completion in the range [0, 1]
func (e ProgressEvent) Fraction() float64 {
	return domain.ProgressState{Total: e.Total, Completed: e.Completed}.Fraction()
}

// LogEvent is one line for the host's log view
type LogEvent struct {
	Time    time.Time        `json:"time"`
	Level   slog.Level       `json:"level"`
	BatchID string           `json:"batch_id,omitempty"`
	JobID   domain.JobID     `json:"job_id,omitempty"`
	Status  domain.JobStatus `json:"status,omitempty"`
	Message string           `json:"message"`
	Output  string           `json:"output,omitempty"` // captured converter output
}

// Sink receives presentation events. Methods are called on the goroutine
// that owns the Orchestrator.
type Sink interface {
	Progress(ProgressEvent)
	Log(LogEvent)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are ignored.
type SinkFuncs struct {
	OnProgress func(ProgressEvent)
	OnLog      func(LogEvent)
}

func (s SinkFuncs) Progress(e ProgressEvent) {
	if s.OnProgress != nil {
		s.OnProgress(e)
	}
}

func (s SinkFuncs) Log(e LogEvent) {
	if s.OnLog != nil {
		s.OnLog(e)
	}
}

// MultiSink forwards every event to each sink in order
type MultiSink []Sink

func (m MultiSink) Progress(e ProgressEvent) {
	for _, s := range m {
		s.Progress(e)
	}
}

func (m MultiSink) Log(e LogEvent) {
	for _, s := range m {
		s.Log(e)
	}
}

// NopSink drops all events
type NopSink struct{}

func (NopSink) Progress(ProgressEvent) {}
func (NopSink) Log(LogEvent)           {}

// MultiRecorder forwards to every recorder and returns the first error
type MultiRecorder []Recorder

func (m MultiRecorder) RecordBatch(b *domain.Batch) error {
	var first error
	for _, r := range m {
		if err := r.RecordBatch(b); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiRecorder) RecordJob(batchID string, job domain.ReplayJob, status domain.JobStatus, result *domain.ConversionResult) error {
	var first error
	for _, r := range m {
		if err := r.RecordJob(batchID, job, status, result); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiRecorder) FinishBatch(b *domain.Batch) error {
	var first error
	for _, r := range m {
		if err := r.FinishBatch(b); err != nil && first == nil {
			first = err
		}
	}
	return first
}
