package tui

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/replay-orchestrator/internal/testsupport"
)

// failNamed fails conversions whose input name contains "corrupt"
func failNamed(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
	if strings.Contains(job.Name(), "corrupt") {
		return domain.ConversionResult{ExitCode: 1, Stderr: "corrupt demo"}
	}
	return domain.ConversionResult{ExitCode: 0}
}

type fixture struct {
	model   Model
	orch    *orchestrator.Orchestrator
	events  *EventLog
	cfg     *config.Config
	cfgPath string
}

func newFixture(t *testing.T, run func(context.Context, domain.ReplayJob) domain.ConversionResult) *fixture {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Replays = filepath.Join(root, "replays")
	cfg.Paths.Output = filepath.Join(root, "output")
	for _, dir := range []string{cfg.Paths.Replays, cfg.Paths.Output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	events := NewEventLog(0)
	orch, err := orchestrator.New(orchestrator.Options{
		Run:       run,
		Workers:   2,
		MinBytes:  cfg.Processing.MinBytes,
		InputExt:  cfg.Processing.InputExt,
		OutputExt: cfg.Processing.OutputExt,
		Logger:    slog.New(slog.DiscardHandler),
		Sink:      events,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	cfgPath := filepath.Join(root, "config.toml")
	model := NewModel(ModelConfig{
		Orchestrator: orch,
		Events:       events,
		Config:       cfg,
		ConfigPath:   cfgPath,
	})
	model.width = 100
	model.height = 40

	return &fixture{model: model, orch: orch, events: events, cfg: cfg, cfgPath: cfgPath}
}

func (f *fixture) key(t *testing.T, k string) {
	t.Helper()
	newModel, _ := f.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	f.model = newModel.(Model)
}

// pollUntilFinished feeds poll ticks until the current batch is done
func (f *fixture) pollUntilFinished(t *testing.T) *domain.Batch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		newModel, cmd := f.model.Update(PollMsg(time.Now()))
		f.model = newModel.(Model)
		if cmd == nil {
			t.Fatal("poll did not re-arm")
		}
		if b, ok := f.model.currentBatch(); ok && b.Finished() {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("batch did not finish")
	return nil
}

func (f *fixture) logContains(substr string) bool {
	for _, e := range f.events.Lines() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestNewModel(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.PollInterval = config.Duration(200 * time.Millisecond)

	model := NewModel(ModelConfig{Config: cfg})

	if model.pollInterval != 200*time.Millisecond {
		t.Errorf("pollInterval = %v, want 200ms", model.pollInterval)
	}
	if model.events == nil {
		t.Error("events should default to a fresh log")
	}
	if model.Init() == nil {
		t.Error("Init should start the poll cycle")
	}
}

func TestNewModel_NilConfigUsesDefaults(t *testing.T) {
	model := NewModel(ModelConfig{})
	if model.cfg == nil {
		t.Fatal("cfg is nil")
	}
	if model.pollInterval != orchestrator.DefaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", model.pollInterval, orchestrator.DefaultPollInterval)
	}
}

func TestModel_ProcessRunsBatch(t *testing.T) {
	f := newFixture(t, failNamed)
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "match1.dem", 2_000_000)
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "corrupt.dem", 2_000_000)
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "tiny.dem", 10)

	f.key(t, "p")
	if f.model.lastBatchID == "" {
		t.Fatal("no batch started")
	}

	b := f.pollUntilFinished(t)
	counts := b.Counts()
	if counts[domain.StatusCompleted] != 1 || counts[domain.StatusFailed] != 1 {
		t.Errorf("counts = %v, want 1 completed and 1 failed", counts)
	}
	if !f.logContains("Done: 1 converted, 0 skipped, 1 failed") {
		t.Error("summary line missing from log")
	}
}

func TestModel_ProcessWithoutReplaysDir(t *testing.T) {
	f := newFixture(t, failNamed)
	f.cfg.Paths.Replays = ""

	f.key(t, "p")

	if f.model.lastBatchID != "" {
		t.Error("batch should not start")
	}
	if !f.logContains("No replays directory configured") {
		t.Error("expected an error line in the log")
	}
}

func TestModel_ProcessMissingDirLogsError(t *testing.T) {
	f := newFixture(t, failNamed)
	f.cfg.Paths.Replays = filepath.Join(t.TempDir(), "missing")

	f.key(t, "p")

	if !f.logContains("Cannot start") {
		t.Error("expected start failure in the log")
	}
}

func TestModel_ToggleReprocessSavesConfig(t *testing.T) {
	f := newFixture(t, failNamed)

	f.key(t, "r")
	if !f.cfg.Processing.Reprocess {
		t.Fatal("reprocess should be on")
	}

	saved, err := config.Load(f.cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !saved.Processing.Reprocess {
		t.Error("saved config should have reprocess on")
	}

	f.key(t, "r")
	if f.cfg.Processing.Reprocess {
		t.Error("second toggle should turn reprocess off")
	}
}

func TestModel_RetryFailedOnlyDispatchesFailures(t *testing.T) {
	var corruptRuns atomic.Int32
	// the failing conversion leaves partial output behind
	f := newFixture(t, func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
		if job.Name() == "corrupt.dem" {
			corruptRuns.Add(1)
			_ = os.WriteFile(job.OutputPath, []byte("{partial"), 0o644)
			return domain.ConversionResult{ExitCode: 1, Stderr: "corrupt demo"}
		}
		return domain.ConversionResult{ExitCode: 0}
	})
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "match1.dem", 2_000_000)
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "corrupt.dem", 2_000_000)

	f.key(t, "p")
	first := f.pollUntilFinished(t)

	f.key(t, "f")
	if f.model.lastBatchID == first.ID {
		t.Fatal("retry did not start a new batch")
	}
	retry := f.pollUntilFinished(t)

	if len(retry.Jobs) != 1 {
		t.Fatalf("retry jobs = %d, want 1", len(retry.Jobs))
	}
	job := retry.Jobs[0]
	if job.Name() != "corrupt.dem" {
		t.Errorf("retried %s, want corrupt.dem", job.Name())
	}
	if got := retry.Statuses[job.ID]; got != domain.StatusFailed {
		t.Errorf("retry status = %s, want failed (partial output must not cause a skip)", got)
	}
	if got := corruptRuns.Load(); got != 2 {
		t.Errorf("corrupt.dem converted %d times, want 2", got)
	}
	if f.cfg.Processing.Reprocess {
		t.Error("retry must not change the reprocess preference")
	}
}

func TestModel_RetryWithoutBatch(t *testing.T) {
	f := newFixture(t, failNamed)
	f.key(t, "f")
	if !f.logContains("Nothing to retry") {
		t.Error("expected a hint in the log")
	}
}

func TestModel_AbandonCurrentBatch(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, job domain.ReplayJob) domain.ConversionResult {
		<-release
		return domain.ConversionResult{}
	})
	defer close(release)
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "match1.dem", 2_000_000)

	f.key(t, "p")
	f.key(t, "a")

	b, ok := f.model.currentBatch()
	if !ok {
		t.Fatal("no current batch")
	}
	if !b.Abandoned {
		t.Error("batch should be abandoned")
	}
}

func TestModel_ShowOutput(t *testing.T) {
	f := newFixture(t, failNamed)
	f.key(t, "o")
	if !f.model.showOutput {
		t.Error("showOutput should be set")
	}
	if !f.logContains("Output directory: " + f.cfg.Paths.Output) {
		t.Error("output directory not logged")
	}
}

func TestModel_Quit(t *testing.T) {
	f := newFixture(t, failNamed)
	_, cmd := f.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestModel_WindowSize(t *testing.T) {
	model := NewModel(ModelConfig{})
	newModel, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	model = newModel.(Model)
	if model.width != 120 || model.height != 50 {
		t.Errorf("size = %dx%d, want 120x50", model.width, model.height)
	}
}

func TestModel_LogScroll(t *testing.T) {
	f := newFixture(t, failNamed)
	for i := 0; i < 3; i++ {
		f.events.Info("line")
	}

	f.key(t, "k")
	f.key(t, "k")
	if f.model.logScroll != 2 {
		t.Errorf("logScroll = %d, want 2", f.model.logScroll)
	}
	f.key(t, "k")
	if f.model.logScroll != 2 {
		t.Errorf("logScroll should stop at the oldest line, got %d", f.model.logScroll)
	}
	f.key(t, "j")
	if f.model.logScroll != 1 {
		t.Errorf("logScroll = %d, want 1", f.model.logScroll)
	}
	f.key(t, "G")
	if f.model.logScroll != 0 {
		t.Errorf("logScroll = %d, want 0", f.model.logScroll)
	}
}

func TestView(t *testing.T) {
	f := newFixture(t, failNamed)
	testsupport.WriteReplay(t, f.cfg.Paths.Replays, "match1.dem", 2_000_000)

	if got := (Model{}).View(); got != "Loading..." {
		t.Errorf("View before size = %q", got)
	}

	view := f.model.View()
	for _, want := range []string{"Replay Orchestrator", "No batch yet", "Idle", "[p]rocess"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	f.key(t, "p")
	f.pollUntilFinished(t)
	view = f.model.View()
	for _, want := range []string{"1/1 (100%)", "1 converted", "done"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestEventLog_Trims(t *testing.T) {
	l := NewEventLog(2)
	l.Info("a")
	l.Info("b")
	l.Error("c")

	lines := l.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].Message != "b" || lines[1].Message != "c" {
		t.Errorf("kept %q and %q, want b and c", lines[0].Message, lines[1].Message)
	}
	if lines[1].Level != slog.LevelError {
		t.Errorf("level = %v, want error", lines[1].Level)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"tiny max", 2, "tiny max"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
		{10 * time.Minute, "10m00s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
