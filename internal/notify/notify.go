package notify

import (
	"fmt"
	"time"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title     string
	Message   string
	Type      NotificationType
	BatchID   string // Optional batch reference
	OutputDir string // Optional location of the converted files
	Counts    *BatchCounts
}

// BatchCounts is the outcome of a finished batch
type BatchCounts struct {
	Converted int
	Skipped   int
	Failed    int
	Total     int
	Elapsed   time.Duration
}

// AllFailed reports whether every job of a non-empty batch failed
func (c BatchCounts) AllFailed() bool {
	return c.Total > 0 && c.Failed == c.Total
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromConfig builds the notifier set enabled in the [notifications] section
func FromConfig(cfg config.NotificationsConfig) Notifier {
	var notifiers []Notifier
	if cfg.Desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(notifiers...)
}

// ForBatch summarises a finished batch
func ForBatch(b *domain.Batch) Notification {
	tally := b.Counts()
	counts := BatchCounts{
		Converted: tally[domain.StatusCompleted],
		Skipped:   tally[domain.StatusSkipped],
		Failed:    tally[domain.StatusFailed],
		Total:     len(b.Jobs),
	}
	if b.FinishedAt != nil {
		counts.Elapsed = b.FinishedAt.Sub(b.StartedAt)
	}

	n := Notification{
		Title:     "Replay conversion finished",
		BatchID:   b.ShortID(),
		OutputDir: b.OutputDir,
		Type:      NotifySuccess,
		Counts:    &counts,
		Message: fmt.Sprintf("%d converted, %d skipped, %d failed",
			counts.Converted, counts.Skipped, counts.Failed),
	}
	switch {
	case b.Abandoned:
		n.Title = "Replay conversion abandoned"
		n.Type = NotifyWarning
	case counts.AllFailed():
		n.Type = NotifyError
	case counts.Failed > 0:
		n.Type = NotifyWarning
	}
	return n
}
