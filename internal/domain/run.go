package domain

import "time"

// LaunchFailedExitCode is recorded when the converter could not be started
// at all, so there is no real process exit code.
const LaunchFailedExitCode = -1

// ConversionResult is the outcome of one converter invocation
type ConversionResult struct {
	JobID      JobID
	ExitCode   int
	Stdout     string
	Stderr     string
	Err        string // launch or context error, empty when the process ran
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Succeeded returns true if the converter ran and exited with code 0
func (r ConversionResult) Succeeded() bool {
	return r.Err == "" && r.ExitCode == 0
}

// Status maps the result to the terminal job status it implies
func (r ConversionResult) Status() JobStatus {
	if r.Succeeded() {
		return StatusCompleted
	}
	return StatusFailed
}

// ProgressState tracks how many jobs of a batch have reached a terminal
// status. Completed only ever grows.
type ProgressState struct {
	Total     int
	Completed int
}

// Advance records one more finished job
func (p *ProgressState) Advance() {
	p.Completed++
}

// Done returns true when every job has been accounted for
func (p ProgressState) Done() bool {
	return p.Completed >= p.Total
}

// Fraction returns completion in the range [0, 1]
func (p ProgressState) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}
