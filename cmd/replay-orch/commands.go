package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
	"github.com/hochfrequenz/replay-orchestrator/internal/logging"
	"github.com/hochfrequenz/replay-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/replay-orchestrator/internal/replay"
	"github.com/hochfrequenz/replay-orchestrator/tui"
)

var (
	runReprocess  bool
	runWorkers    int
	runReplays    string
	runOutput     string
	runOnlyFailed bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Convert all eligible replays once and exit",
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runReprocess, "reprocess", false, "convert replays that already have output")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "concurrent converter processes (default from config)")
	runCmd.Flags().StringVar(&runReplays, "replays", "", "replays directory (default from config)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output directory (default from config)")
	runCmd.Flags().BoolVar(&runOnlyFailed, "only-failed", false, "retry the replays that failed in the last recorded batch")
	rootCmd.AddCommand(runCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	// check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, converter and directories",
		RunE:  runCheck,
	}
	rootCmd.AddCommand(checkCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE:  runConfigInit,
	})
	rootCmd.AddCommand(configCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runReplays != "" {
		cfg.Paths.Replays = config.ExpandPath(runReplays)
	}
	if runOutput != "" {
		cfg.Paths.Output = config.ExpandPath(runOutput)
	}
	if runWorkers > 0 {
		cfg.Processing.Workers = runWorkers
	}
	if cmd.Flags().Changed("reprocess") {
		cfg.Processing.Reprocess = runReprocess
	}
	if cfg.Paths.Replays == "" {
		return errors.New("no replays directory: set paths.replays or pass --replays")
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	req := orchestrator.BatchRequest{
		ReplaysDir: cfg.Paths.Replays,
		OutputDir:  cfg.Paths.Output,
		Reprocess:  cfg.Processing.Reprocess,
	}
	if runOnlyFailed {
		only, err := lastFailedInputs(a)
		if err != nil {
			return err
		}
		if len(only) == 0 {
			fmt.Println("No failed replays in the last batch")
			return nil
		}
		req.Only = only
		// failed replays may have left partial output behind
		req.Reprocess = true
	}

	progress := newProgressSink()
	o, err := a.newOrchestrator(progress)
	if err != nil {
		return err
	}
	defer a.shutdown(o)

	ctx, stop := signalContext()
	defer stop()

	b, err := o.StartBatch(ctx, req)
	if err != nil {
		return err
	}
	b, err = orchestrator.WaitBatch(ctx, o, b.ID, cfg.Processing.PollInterval.Std())
	progress.finish()
	if err != nil {
		return fmt.Errorf("batch %s abandoned: %w", b.ShortID(), err)
	}

	counts := b.Counts()
	fmt.Printf("Done: %d converted, %d skipped, %d failed in %s\n",
		counts[domain.StatusCompleted], counts[domain.StatusSkipped], counts[domain.StatusFailed],
		b.FinishedAt.Sub(b.StartedAt).Round(100*time.Millisecond))
	if n := counts[domain.StatusFailed]; n > 0 {
		return fmt.Errorf("%d replays failed, retry with --only-failed", n)
	}
	return nil
}

func lastFailedInputs(a *app) ([]string, error) {
	if a.store == nil {
		return nil, errors.New("--only-failed needs the history database")
	}
	batches, err := a.store.ListBatches(1)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return a.store.FailedInputs(batches[0].ID)
}

// progressSink drives a terminal progress bar from batch progress events
type progressSink struct {
	bar     *progressbar.ProgressBar
	visible bool
}

func newProgressSink() *progressSink {
	return &progressSink{visible: isatty.IsTerminal(os.Stderr.Fd())}
}

func (p *progressSink) Progress(e orchestrator.ProgressEvent) {
	if e.Total == 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetVisibility(p.visible),
		)
	}
	_ = p.bar.Set(e.Completed)
}

func (p *progressSink) Log(orchestrator.LogEvent) {}

func (p *progressSink) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// the dashboard owns the terminal, logs go to the file only
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	events := tui.NewEventLog(0)
	o, err := a.newOrchestrator(events)
	if err != nil {
		return err
	}
	defer a.shutdown(o)

	model := tui.NewModel(tui.ModelConfig{
		Orchestrator: o,
		Events:       events,
		Config:       cfg,
		ConfigPath:   resolvedConfigPath(),
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	problems := 0
	report := func(ok bool, format string, args ...any) {
		mark := "ok  "
		if !ok {
			mark = "FAIL"
			problems++
		}
		fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
	}

	_, statErr := os.Stat(path)
	report(statErr == nil, "config file %s", path)

	cfg, err := loadConfig()
	if err != nil {
		report(false, "config: %v", err)
		return fmt.Errorf("%d problem(s) found", problems)
	}

	info, err := os.Stat(cfg.Paths.Converter)
	switch {
	case err != nil:
		report(false, "converter %s: not found", cfg.Paths.Converter)
	case info.IsDir():
		report(false, "converter %s: is a directory", cfg.Paths.Converter)
	default:
		report(true, "converter %s", cfg.Paths.Converter)
	}

	if cfg.Paths.Replays == "" {
		report(false, "replays directory not configured")
	} else if err := replay.ValidateDir(cfg.Paths.Replays, false); err != nil {
		report(false, "replays directory: %v", err)
	} else {
		found, err := replay.FindReplays(cfg.Paths.Replays, replay.FilterOptions{
			InputExt: cfg.Processing.InputExt,
			MinBytes: cfg.Processing.MinBytes,
		}, logging.Discard())
		report(err == nil, "replays directory %s (%d replays over %s)",
			cfg.Paths.Replays, len(found), humanize.Bytes(uint64(cfg.Processing.MinBytes)))
	}

	if err := replay.ValidateDir(cfg.Paths.Output, true); err != nil {
		report(false, "output directory: %v", err)
	} else {
		report(true, "output directory %s", cfg.Paths.Output)
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	fmt.Println("All checks passed")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if _, err := config.Init(path); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%s already exists", path)
		}
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println("Set paths.replays before running a batch")
	return nil
}
