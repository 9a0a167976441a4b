package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/replay-orchestrator/internal/history"
	"github.com/hochfrequenz/replay-orchestrator/internal/report"
)

var (
	historyLimit int
	exportOutput string
)

func init() {
	// history command
	historyCmd := &cobra.Command{
		Use:   "history [BATCH]",
		Short: "List recorded batches, or the jobs of one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of batches to show")
	rootCmd.AddCommand(historyCmd)

	// export command
	exportCmd := &cobra.Command{
		Use:   "export BATCH",
		Short: "Write a YAML report for a recorded batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.Store.DatabasePath)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if isatty.IsTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return printJobs(cmd.OutOrStdout(), store, args[0])
	}

	batches, err := store.ListBatches(historyLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No batches recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			b.ShortID(),
			humanize.Time(b.StartedAt),
			report.Build(b, nil).Status,
			strconv.Itoa(b.Total),
			strconv.Itoa(b.Completed),
			strconv.Itoa(b.Skipped),
			strconv.Itoa(b.Failed),
			b.ReplaysDir,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Batch", "Started", "Status", "Total", "Converted", "Skipped", "Failed", "Replays"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func printJobs(w io.Writer, store *history.Store, id string) error {
	b, err := store.GetBatch(id)
	if err != nil {
		return fmt.Errorf("batch %s: %w", id, err)
	}
	jobs, err := store.ListJobs(b.ID)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		exit := "-"
		if j.ExitCode != nil {
			exit = strconv.Itoa(*j.ExitCode)
		}
		duration := "-"
		if j.Duration > 0 {
			duration = j.Duration.Round(100 * time.Millisecond).String()
		}
		rows = append(rows, []string{
			j.JobID.String(),
			filepath.Base(j.InputPath),
			string(j.Status),
			exit,
			duration,
			j.Error,
		})
	}
	fmt.Fprintf(w, "Batch %s, started %s\n", b.ID, humanize.Time(b.StartedAt))
	fmt.Fprintln(w, renderTable(
		[]string{"Job", "Replay", "Status", "Exit", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := store.GetBatch(args[0])
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no batch matches %q", args[0])
		}
		return err
	}
	jobs, err := store.ListJobs(b.ID)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return report.WriteYAML(w, report.Build(b, jobs))
}
