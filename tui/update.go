package tui

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p", "enter":
			m.startBatch(nil, m.cfg.Processing.Reprocess)
		case "f":
			m.retryFailed()
		case "r":
			m.toggleReprocess()
		case "o":
			m.showOutput = !m.showOutput
			m.events.Info("Output directory: " + m.outputDir())
		case "a":
			m.abandon()
		case "k", "up":
			if m.logScroll < len(m.events.Lines())-1 {
				m.logScroll++
			}
		case "j", "down":
			if m.logScroll > 0 {
				m.logScroll--
			}
		case "G", "end":
			m.logScroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case PollMsg:
		m.orch.Poll()
		return m, pollCmd(m.pollInterval)
	}

	return m, nil
}

func (m Model) outputDir() string {
	dir, err := filepath.Abs(m.cfg.Paths.Output)
	if err != nil {
		return m.cfg.Paths.Output
	}
	return dir
}

func (m *Model) startBatch(only []string, reprocess bool) {
	if m.cfg.Paths.Replays == "" {
		m.events.Error("No replays directory configured")
		return
	}

	b, err := m.orch.StartBatch(context.Background(), orchestrator.BatchRequest{
		ReplaysDir: m.cfg.Paths.Replays,
		OutputDir:  m.cfg.Paths.Output,
		Reprocess:  reprocess,
		Only:       only,
	})
	if err != nil {
		m.events.Error(fmt.Sprintf("Cannot start: %v", err))
		return
	}
	m.lastBatchID = b.ID
	m.logScroll = 0
}

func (m *Model) retryFailed() {
	b, ok := m.currentBatch()
	if !ok || !b.Finished() {
		m.events.Info("Nothing to retry")
		return
	}

	var failed []string
	for _, j := range b.Jobs {
		if b.Statuses[j.ID] == domain.StatusFailed {
			failed = append(failed, j.InputPath)
		}
	}
	if len(failed) == 0 {
		m.events.Info("No failed replays in the last batch")
		return
	}
	// a failed conversion may have left partial output behind
	m.startBatch(failed, true)
}

func (m *Model) toggleReprocess() {
	m.cfg.Processing.Reprocess = !m.cfg.Processing.Reprocess
	state := "off"
	if m.cfg.Processing.Reprocess {
		state = "on"
	}
	m.events.Info("Reprocess existing output: " + state)

	if m.configPath == "" {
		return
	}
	if err := m.cfg.Save(m.configPath); err != nil {
		m.events.Error(fmt.Sprintf("Saving config: %v", err))
	}
}

func (m *Model) abandon() {
	b, ok := m.currentBatch()
	if !ok || b.Finished() {
		return
	}
	if err := m.orch.Abandon(b.ID); err != nil {
		m.events.Error(err.Error())
	}
}

func (m Model) currentBatch() (*domain.Batch, bool) {
	if m.lastBatchID == "" {
		return nil, false
	}
	return m.orch.Batch(m.lastBatchID)
}
