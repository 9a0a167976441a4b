package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "replay-orch",
		Short: "Replay Orchestrator - batch replay to JSON conversion",
		Long: `Replay Orchestrator finds downloaded match replays, runs the external
converter on each one in a bounded worker pool, and reports progress
and results as they come in. Replays that already have output are
skipped unless reprocessing is enabled.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
