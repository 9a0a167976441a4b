// Package report renders a batch and its jobs as a YAML document.
package report

import (
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/history"
)

// Report is the exported view of one batch
type Report struct {
	Batch   string     `yaml:"batch" json:"batch"`
	Replays string     `yaml:"replays_dir" json:"replays_dir"`
	Output  string     `yaml:"output_dir" json:"output_dir"`
	Started time.Time  `yaml:"started_at" json:"started_at"`
	Elapsed string     `yaml:"elapsed,omitempty" json:"elapsed,omitempty"`
	Status  string     `yaml:"status" json:"status"`
	Summary Summary    `yaml:"summary" json:"summary"`
	Jobs    []JobEntry `yaml:"jobs" json:"jobs"`
}

// Summary counts jobs by outcome
type Summary struct {
	Total     int `yaml:"total" json:"total"`
	Converted int `yaml:"converted" json:"converted"`
	Skipped   int `yaml:"skipped" json:"skipped"`
	Failed    int `yaml:"failed" json:"failed"`
}

// JobEntry is one job line of the report
type JobEntry struct {
	ID       string `yaml:"id" json:"id"`
	Input    string `yaml:"input" json:"input"`
	Output   string `yaml:"output" json:"output"`
	Status   string `yaml:"status" json:"status"`
	ExitCode *int   `yaml:"exit_code,omitempty" json:"exit_code,omitempty"`
	Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`
	Error    string `yaml:"error,omitempty" json:"error,omitempty"`
	Stderr   string `yaml:"stderr,omitempty" json:"stderr,omitempty"`
}

// Build creates a report from stored history
func Build(b history.BatchRecord, jobs []history.JobRecord) Report {
	r := Report{
		Batch:   b.ID,
		Replays: b.ReplaysDir,
		Output:  b.OutputDir,
		Started: b.StartedAt,
		Status:  batchStatus(b.FinishedAt != nil, b.Abandoned),
		Summary: Summary{Total: b.Total, Converted: b.Completed, Skipped: b.Skipped, Failed: b.Failed},
	}
	if b.FinishedAt != nil {
		r.Elapsed = b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
	}

	for _, j := range jobs {
		entry := JobEntry{
			ID:       j.JobID.String(),
			Input:    j.InputPath,
			Output:   j.OutputPath,
			Status:   string(j.Status),
			ExitCode: j.ExitCode,
			Error:    j.Error,
		}
		if j.ExitCode != nil {
			entry.Duration = j.Duration.String()
		}
		if j.Status == domain.StatusFailed {
			entry.Stderr = strings.TrimSpace(j.Stderr)
		}
		r.Jobs = append(r.Jobs, entry)
	}
	return r
}

// FromBatch creates a report from a batch held in memory
func FromBatch(b *domain.Batch) Report {
	counts := b.Counts()
	r := Report{
		Batch:   b.ID,
		Replays: b.ReplaysDir,
		Output:  b.OutputDir,
		Started: b.StartedAt,
		Status:  batchStatus(b.Finished(), b.Abandoned),
		Summary: Summary{
			Total:     b.Progress.Total,
			Converted: counts[domain.StatusCompleted],
			Skipped:   counts[domain.StatusSkipped],
			Failed:    counts[domain.StatusFailed],
		},
	}
	if b.FinishedAt != nil {
		r.Elapsed = b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
	}

	for _, j := range b.Jobs {
		entry := JobEntry{
			ID:     j.ID.String(),
			Input:  j.InputPath,
			Output: j.OutputPath,
			Status: string(b.Statuses[j.ID]),
		}
		if res, ok := b.Results[j.ID]; ok {
			code := res.ExitCode
			entry.ExitCode = &code
			entry.Duration = res.Duration.String()
			entry.Error = res.Err
			if !res.Succeeded() {
				entry.Stderr = strings.TrimSpace(res.Stderr)
			}
		}
		r.Jobs = append(r.Jobs, entry)
	}
	return r
}

func batchStatus(finished, abandoned bool) string {
	switch {
	case abandoned:
		return "abandoned"
	case finished:
		return "finished"
	default:
		return "running"
	}
}

// WriteYAML encodes the report to w
func WriteYAML(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
