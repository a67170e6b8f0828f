package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/modegate/internal/mode"
	"github.com/randalmurphal/modegate/internal/progress"
	"github.com/randalmurphal/modegate/internal/watcher"
	"github.com/randalmurphal/modegate/internal/workqueue"
)

// reindexItem is the maintenance task queued for a batch of changed files.
// Batches of the same kind merge by unioning their paths, so a change storm
// costs one pass instead of one pass per batch.
type reindexItem struct {
	paths map[string]struct{}
}

func newReindexItem(paths []string) *reindexItem {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return &reindexItem{paths: set}
}

func (r *reindexItem) Kind() string { return "reindex" }

func (r *reindexItem) Run(ctx context.Context, progress workqueue.Progress) error {
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for i, p := range paths {
		if err := progress.CheckCancelled(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		progress.ReportProgress(fmt.Sprintf("indexing %s (%d/%d)", p, i+1, len(paths)))
	}
	return nil
}

func (r *reindexItem) Dispose() {}

func (r *reindexItem) MergeWith(pending workqueue.WorkItem) workqueue.WorkItem {
	other, ok := pending.(*reindexItem)
	if !ok {
		return nil
	}
	for p := range other.paths {
		r.paths[p] = struct{}{}
	}
	return r
}

// newWatchCmd creates the watch command
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Watch directories and queue maintenance on changes",
		Long: `Monitor one or more directory trees and queue a reindex task for every
debounced batch of file changes. Batches arriving while an earlier reindex is
still pending merge into it. Mode transitions are printed as they happen.

Examples:
  modegate watch                  # watch the current directory
  modegate watch src docs -v      # watch two trees with debug logging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			debounceMs, _ := cmd.Flags().GetInt("debounce-millis")
			paths := args
			if len(paths) == 0 {
				paths = []string{"."}
			}
			return runWatch(cmd.Context(), paths, debounceMs)
		},
	}

	cmd.Flags().Int("debounce-millis", 500, "quiet period before a change batch is queued")

	return cmd
}

func runWatch(ctx context.Context, paths []string, debounceMs int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	display := progress.New(os.Stdout, !verbose)
	eng, err := buildEngine(cfg, logger, mode.WithProgress(display))
	if err != nil {
		return err
	}
	defer eng.close()

	coordinator := eng.coordinator
	unsubscribe := coordinator.OnTransition(mode.ListenerFuncs{
		OnUnavailable: func() { fmt.Println("mode: unavailable") },
		OnAvailable:   func() { fmt.Println("mode: available") },
	})
	defer unsubscribe()

	w, err := watcher.New(watcher.Config{
		Paths:      paths,
		DebounceMs: debounceMs,
		Logger:     logger,
	}, func(changed []string) {
		if _, err := coordinator.Queue(newReindexItem(changed)); err != nil {
			logger.Error("queue reindex", "error", err)
			return
		}
		fmt.Printf("queued reindex for %d changed path(s)\n", len(changed))
	})
	if err != nil {
		return err
	}

	w.Start()
	defer w.Stop()

	fmt.Printf("watching %v (debounce %dms), Ctrl-C to stop\n", paths, debounceMs)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	// Let in-flight maintenance finish before tearing down; past the
	// deadline, ask it to stop instead.
	if coordinator.WaitUntilAvailable(context.Background(), cfg.WaitTimeout) {
		fmt.Println("maintenance drained, shutting down")
		return nil
	}
	display.RequestStop()
	err = coordinator.CancelAllAndWait(context.Background())
	if err != nil && !errors.Is(err, workqueue.ErrCancelled) {
		return fmt.Errorf("cancel maintenance: %w", err)
	}
	fmt.Println("maintenance cancelled, shutting down")
	return nil
}
