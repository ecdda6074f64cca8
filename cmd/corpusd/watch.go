package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/syncer"
	"github.com/fyrsmithlabs/corpusd/internal/watcher"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the corpus and re-sync on changes",
	Long: `Watch the corpus tree and run an incremental sync after each
quiet period following document changes. Bulk operations (git checkout,
rsync) collapse into a single sync.

An initial sync runs before watching starts. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period before a change triggers a sync")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	report, err := a.syncer.Sync(ctx, syncer.Options{})
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	printReport(report)

	w, err := watcher.New(watcher.Config{
		Root:       a.cfg.Corpus.Root,
		Extensions: a.cfg.Corpus.Extensions,
		Debounce:   watchDebounce,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch stopped")
			return nil
		case <-w.Triggers():
			report, err := a.syncer.Sync(ctx, syncer.Options{})
			if err != nil {
				// Keep watching; the next trigger retries.
				a.logger.Error("sync failed", zap.Error(err))
				continue
			}
			a.logger.Info("corpus re-synced",
				zap.Int("processed", report.Processed),
				zap.Int("deleted", report.Deleted),
				zap.Int("failed", report.Failed),
				zap.Int("chunks", report.Chunks),
			)
		}
	}
}
