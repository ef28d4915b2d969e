package main

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/misopack/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyDirection string
	historyLimit     int
	historyExcluded  int64
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded compress and uncompress runs",
		Long: `List runs recorded in the run catalog, newest first.

Use --direction to show only compress or uncompress runs, and --excluded with a
run ID to list the files a compress run left out of its archive.`,
		Example: `  misopack history
  misopack history --direction compress --limit 5
  misopack history --excluded 12`,
		Args: cobra.NoArgs,
		RunE: historyRun,
	}

	cmd.Flags().StringVar(&historyDirection, "direction", "", "show only compress or uncompress runs")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().Int64Var(&historyExcluded, "excluded", 0, "list the files excluded by the given run ID")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("run catalog is not available (disabled in config or --no-catalog)")
	}

	if historyExcluded != 0 {
		return printExclusions(globalStore, historyExcluded)
	}

	switch historyDirection {
	case "", store.DirectionCompress, store.DirectionUncompress:
	default:
		return fmt.Errorf("invalid direction %q: must be %s or %s",
			historyDirection, store.DirectionCompress, store.DirectionUncompress)
	}

	runs, err := globalStore.ListRuns(historyDirection, historyLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Println("Run History")
	fmt.Println("===========")
	fmt.Println("")
	fmt.Printf("%-6s %-10s %-9s %-6s %8s %8s %10s %-16s %s\n",
		"ID", "Direction", "Status", "Codec", "Files", "Excluded", "Size", "Started", "Source")
	fmt.Println(strings.Repeat("-", 100))

	for _, r := range runs {
		codec := r.Codec
		if codec == "" {
			codec = "-"
		}
		status := r.Status
		if r.DryRun {
			status += "*"
		}
		fmt.Printf("%-6d %-10s %-9s %-6s %8d %8d %10s %-16s %s\n",
			r.ID,
			r.Direction,
			status,
			codec,
			r.FilesIncluded,
			r.FilesExcluded,
			humanize.IBytes(uint64(r.TotalSize)),
			r.StartTime.Local().Format("2006-01-02 15:04"),
			r.Source,
		)
		if r.ErrorMessage != "" {
			fmt.Printf("       error: %s\n", r.ErrorMessage)
		}
	}

	fmt.Println("")
	fmt.Println("* dry run")

	return nil
}

func printExclusions(st *store.Store, runID int64) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return fmt.Errorf("looking up run %d: %w", runID, err)
	}

	exclusions, err := st.ListExclusions(runID)
	if err != nil {
		return fmt.Errorf("listing exclusions for run %d: %w", runID, err)
	}

	if len(exclusions) == 0 {
		fmt.Printf("Run %d (%s) excluded no files\n", run.ID, run.Source)
		return nil
	}

	fmt.Printf("Run %d (%s) excluded %d file(s):\n", run.ID, run.Source, len(exclusions))
	for _, e := range exclusions {
		fmt.Printf("  - %s\n", e.Path)
	}
	return nil
}
