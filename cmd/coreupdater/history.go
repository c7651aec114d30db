package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/config"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	Long: `View the history of compare, update and schema fix runs.

Every run is recorded with its outcome, the releases involved and the id of
its stored process.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than history.retention_days.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.History, *config.Config, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, nil, err
	}
	h, err := history.New(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, cfg, nil
}

func runHistory(_ *cobra.Command, _ []string) error {
	h, _, err := openHistory()
	if err != nil {
		return err
	}
	entries, err := h.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		return nil
	}

	fmt.Fprintf(stdout, "\n%-44s  %-8s  %-7s  %-24s  %s\n", "ID", "TYPE", "RESULT", "RELEASE", "WHEN")
	fmt.Fprintln(stdout, strings.Repeat("-", 100))
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = "failed"
		}
		fmt.Fprintf(stdout, "%-44s  %-8s  %-7s  %-24s  %s\n",
			truncateString(e.ID, 44),
			e.Operation,
			result,
			truncateString(transition(e), 24),
			humanize.Time(e.Timestamp),
		)
	}
	fmt.Fprintln(stdout, strings.Repeat("-", 100))
	fmt.Fprintf(stdout, "\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Fprintln(stdout, "Use 'coreupdater history show <id>' for details on a specific entry.")
	return nil
}

func runHistoryShow(_ *cobra.Command, args []string) error {
	h, _, err := openHistory()
	if err != nil {
		return err
	}
	e, err := h.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	fmt.Fprintln(stdout, "\nOperation Details")
	fmt.Fprintln(stdout, strings.Repeat("=", 60))
	fmt.Fprintf(stdout, "ID:         %s\n", e.ID)
	fmt.Fprintf(stdout, "Timestamp:  %s\n", e.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(stdout, "Operation:  %s\n", e.Operation)
	fmt.Fprintf(stdout, "Root:       %s\n", e.Root)
	if e.ProcessID != "" {
		fmt.Fprintf(stdout, "Process:    %s\n", e.ProcessID)
	}
	if t := transition(*e); t != "" {
		fmt.Fprintf(stdout, "Release:    %s\n", t)
	}
	fmt.Fprintf(stdout, "Duration:   %s\n", e.Duration.Round(time.Millisecond))
	if e.Success {
		fmt.Fprintln(stdout, "Result:     ok")
	} else {
		fmt.Fprintf(stdout, "Result:     failed\nError:      %s\n", e.Error)
	}

	if c := e.Counts; c != nil {
		fmt.Fprintln(stdout, "\nFiles:")
		fmt.Fprintln(stdout, strings.Repeat("-", 60))
		fmt.Fprintf(stdout, "changed %d, added %d, removed %d, obsolete %d, locally modified %d\n",
			c.Change, c.Add, c.Remove, c.Obsolete, c.ManualEdits)
	}
	if len(e.Fixes) > 0 {
		fmt.Fprintln(stdout, "\nSchema fixes:")
		fmt.Fprintln(stdout, strings.Repeat("-", 60))
		for _, id := range e.Fixes {
			fmt.Fprintln(stdout, id)
		}
	}
	return nil
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	h, cfg, err := openHistory()
	if err != nil {
		return err
	}
	days := cfg.History.RetentionDays
	if days <= 0 {
		days = config.DefaultHistoryRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", days)
	n, err := h.Cleanup(days)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d %s.", n, plural(n, "entry", "entries"))
	return nil
}

// transition describes the releases of e, e.g. "1.4.0 -> 1.5.0".
func transition(e history.Entry) string {
	switch {
	case e.From != "" && e.To != "":
		return e.From + " -> " + e.To
	case e.To != "":
		return e.To
	default:
		return e.From
	}
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
