package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

const progressBarWidth = 40

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	reprocess := "off"
	if m.cfg.Processing.Reprocess {
		reprocess = "on"
	}
	header := fmt.Sprintf(" Replay Orchestrator │ Workers: %d/%d │ Batches: %d │ Reprocess: %s ",
		m.orch.ActiveWorkers(), m.orch.Capacity(), len(m.orch.Batches()), reprocess)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderPaths()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderBatch()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderWorkers()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderLog()))
	b.WriteString("\n")

	statusBar := " [p]rocess [f]retry failed [r]eprocess [o]utput [a]bandon [j/k]scroll [q]uit "
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderPaths() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PATHS"))
	b.WriteString("\n")

	replays := m.cfg.Paths.Replays
	if replays == "" {
		replays = warningStyle.Render("(not configured)")
	}
	fmt.Fprintf(&b, "  Replays:   %s\n", replays)
	output := m.cfg.Paths.Output
	if m.showOutput {
		output = m.outputDir()
	}
	fmt.Fprintf(&b, "  Output:    %s\n", output)
	fmt.Fprintf(&b, "  Converter: %s", m.cfg.Paths.Converter)
	return b.String()
}

func (m Model) renderBatch() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("BATCH"))
	b.WriteString("\n")

	batch, ok := m.currentBatch()
	if !ok {
		b.WriteString(queuedStyle.Render("  No batch yet. Press p to process replays."))
		return b.String()
	}

	state := runningStyle.Render("running")
	switch {
	case batch.Abandoned:
		state = warningStyle.Render("abandoned")
	case batch.Finished():
		state = completedStyle.Render("done")
	}
	fmt.Fprintf(&b, "  %s  %s  started %s\n", batch.ShortID(), state, humanize.Time(batch.StartedAt))

	b.WriteString("  ")
	b.WriteString(renderProgressBar(batch.Progress.Fraction(), progressBarWidth))
	fmt.Fprintf(&b, " %d/%d (%.0f%%)\n", batch.Progress.Completed, batch.Progress.Total, batch.Progress.Fraction()*100)

	counts := batch.Counts()
	fmt.Fprintf(&b, "  %s  %s  %s",
		completedStyle.Render(fmt.Sprintf("%d converted", counts[domain.StatusCompleted])),
		queuedStyle.Render(fmt.Sprintf("%d skipped", counts[domain.StatusSkipped])),
		errorStyle.Render(fmt.Sprintf("%d failed", counts[domain.StatusFailed])))

	if batch.FinishedAt != nil {
		fmt.Fprintf(&b, "  in %s", formatDuration(batch.FinishedAt.Sub(batch.StartedAt)))
	}
	return b.String()
}

func renderProgressBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	return completedStyle.Render(strings.Repeat("█", filled)) +
		dimmedStyle.Render(strings.Repeat("░", width-filled))
}

func (m Model) renderWorkers() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("WORKERS"))
	b.WriteString("\n")

	var active []domain.ReplayJob
	var statuses []domain.JobStatus
	for _, batch := range m.orch.Batches() {
		if batch.Abandoned {
			continue
		}
		for _, j := range batch.Jobs {
			st := batch.Statuses[j.ID]
			if st == domain.StatusDispatched || st == domain.StatusRunning {
				active = append(active, j)
				statuses = append(statuses, st)
			}
		}
	}

	if len(active) == 0 {
		b.WriteString(queuedStyle.Render("  Idle"))
		return b.String()
	}
	for i, j := range active {
		style := queuedStyle
		if statuses[i] == domain.StatusRunning {
			style = runningStyle
		}
		fmt.Fprintf(&b, "  %s %s %s\n", j.ID, style.Render(fmt.Sprintf("%-10s", statuses[i])), truncate(j.Name(), m.width-24))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) logHeight() int {
	// header, paths, batch, workers and status bar take roughly this much
	h := m.height - 20
	if h < 5 {
		h = 5
	}
	return h
}

func (m Model) renderLog() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("LOG"))
	b.WriteString("\n")

	lines := m.events.Lines()
	if len(lines) == 0 {
		b.WriteString(dimmedStyle.Render("  (empty)"))
		return b.String()
	}

	end := len(lines) - m.logScroll
	if end < 1 {
		end = 1
	}
	start := end - m.logHeight()
	if start < 0 {
		start = 0
	}
	for _, e := range lines[start:end] {
		b.WriteString(formatLogLine(e, m.width-6))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatLogLine(e orchestrator.LogEvent, width int) string {
	ts := dimmedStyle.Render(e.Time.Format("15:04:05"))
	msg := truncate(e.Message, width-10)
	switch {
	case e.Level >= slog.LevelError:
		msg = errorStyle.Render(msg)
	case e.Level >= slog.LevelWarn:
		msg = warningStyle.Render(msg)
	case e.Status == domain.StatusCompleted:
		msg = completedStyle.Render(msg)
	}
	return ts + " " + msg
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	return fmt.Sprintf("%dm%02ds", m, int(d.Seconds())%60)
}
