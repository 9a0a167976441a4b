// Package tui is the interactive host. The bubbletea update loop owns the
// orchestrator and runs its poll cycle on every tick.
package tui

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
)

const defaultLogLines = 500

// EventLog collects orchestrator events for display. It is only touched
// from the update loop.
type EventLog struct {
	max   int
	lines []orchestrator.LogEvent
}

// NewEventLog keeps at most max log lines
func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = defaultLogLines
	}
	return &EventLog{max: max}
}

// Progress implements orchestrator.Sink. The view reads batch progress
// straight from the orchestrator.
func (l *EventLog) Progress(orchestrator.ProgressEvent) {}

// Log implements orchestrator.Sink
func (l *EventLog) Log(e orchestrator.LogEvent) {
	l.lines = append(l.lines, e)
	if len(l.lines) > l.max {
		l.lines = l.lines[len(l.lines)-l.max:]
	}
}

// Info appends a host message
func (l *EventLog) Info(msg string) {
	l.Log(orchestrator.LogEvent{Time: time.Now(), Level: slog.LevelInfo, Message: msg})
}

// Error appends a host error
func (l *EventLog) Error(msg string) {
	l.Log(orchestrator.LogEvent{Time: time.Now(), Level: slog.LevelError, Message: msg})
}

// Lines returns the collected log lines, oldest first
func (l *EventLog) Lines() []orchestrator.LogEvent {
	return l.lines
}

// Model is the TUI application model
type Model struct {
	orch         *orchestrator.Orchestrator
	events       *EventLog
	cfg          *config.Config
	configPath   string
	pollInterval time.Duration

	// UI state
	width       int
	height      int
	logScroll   int // lines scrolled up from the bottom
	showOutput  bool
	lastBatchID string
}

// ModelConfig holds what the TUI needs to drive batches
type ModelConfig struct {
	Orchestrator *orchestrator.Orchestrator
	Events       *EventLog // must be the orchestrator's sink
	Config       *config.Config
	ConfigPath   string // where toggled preferences are saved; empty disables saving
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	events := cfg.Events
	if events == nil {
		events = NewEventLog(0)
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = config.Default()
	}
	interval := appCfg.Processing.PollInterval.Std()
	if interval <= 0 {
		interval = orchestrator.DefaultPollInterval
	}

	return Model{
		orch:         cfg.Orchestrator,
		events:       events,
		cfg:          appCfg,
		configPath:   cfg.ConfigPath,
		pollInterval: interval,
	}
}

// Init starts the poll cycle
func (m Model) Init() tea.Cmd {
	return pollCmd(m.pollInterval)
}

// PollMsg triggers one orchestrator poll cycle
type PollMsg time.Time

func pollCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return PollMsg(t)
	})
}
