package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/corpusd/internal/syncer"
)

var (
	syncDryRun     bool
	syncForceReset bool
	syncJSON       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the corpus into the index",
	Long: `Synchronize the document corpus into the vector index.

Only new and modified files are reprocessed; files deleted from disk
are removed from the index. Unchanged files are skipped.

Examples:
  # Incremental sync
  corpusd sync

  # Show what would change without writing anything
  corpusd sync --dry-run

  # Drop the index and reindex from scratch
  corpusd sync --force-reset`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report changes without writing anything")
	syncCmd.Flags().BoolVar(&syncForceReset, "force-reset", false, "drop the index and reindex everything")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the report as JSON")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.syncer.Sync(cmd.Context(), syncer.Options{
		DryRun:     syncDryRun,
		ForceReset: syncForceReset,
	})
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if syncJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

func printReport(report *syncer.Report) {
	verb := "Synced"
	if report.DryRun {
		verb = "Would sync"
	}
	fmt.Printf("%s %d file(s) in %s\n", verb, report.Discovered, report.Duration.Round(time.Millisecond))
	fmt.Printf("  processed: %d\n", report.Processed)
	fmt.Printf("  unchanged: %d\n", report.Unchanged)
	fmt.Printf("  deleted:   %d\n", report.Deleted)
	fmt.Printf("  chunks:    %d\n", report.Chunks)
	if report.Failed > 0 {
		fmt.Printf("  failed:    %d\n", report.Failed)
		for _, f := range report.Failures {
			fmt.Printf("    %s: %s\n", f.Path, f.Reason)
		}
	}
}
