package domain

// JobStatus represents the lifecycle state of a replay job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusDispatched JobStatus = "dispatched"
	StatusRunning    JobStatus = "running"
	StatusCompleted  JobStatus = "completed"
	StatusSkipped    JobStatus = "skipped"
	StatusFailed     JobStatus = "failed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{
	StatusPending,
	StatusDispatched,
	StatusRunning,
	StatusCompleted,
	StatusSkipped,
	StatusFailed,
}

// IsTerminal returns true once a job can no longer change state
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from one status to another.
// A job that starts and exits between two polls is observed going straight
// from dispatched to a terminal status.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusSkipped || to == StatusDispatched
	case StatusDispatched:
		return to == StatusRunning || to == StatusCompleted || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ParseStatus converts a stored string back into a JobStatus
func ParseStatus(s string) (JobStatus, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}
