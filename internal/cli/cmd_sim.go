package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/modegate/internal/mode"
	"github.com/randalmurphal/modegate/internal/progress"
	"github.com/randalmurphal/modegate/internal/workqueue"
)

// simItem is a synthetic maintenance task used by the soak run. Items of the
// same kind merge by summing their remaining work.
type simItem struct {
	kind     string
	duration time.Duration
}

func (s *simItem) Kind() string { return s.kind }

func (s *simItem) Run(ctx context.Context, progress workqueue.Progress) error {
	progress.ReportProgress(fmt.Sprintf("maintenance %s (%s)", s.kind, s.duration))
	select {
	case <-time.After(s.duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *simItem) Dispose() {}

func (s *simItem) MergeWith(pending workqueue.WorkItem) workqueue.WorkItem {
	other, ok := pending.(*simItem)
	if !ok {
		return nil
	}
	return &simItem{kind: s.kind, duration: s.duration + other.duration}
}

// newSimCmd creates the sim command
func newSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Soak-run a simulated maintenance workload",
		Long: `Run a synthetic workload through the engine: concurrent submitters queue
maintenance tasks of a few kinds, waiters block on availability, and the final
state is verified to be available with nothing outstanding.

Examples:
  modegate sim                    # default workload
  modegate sim --tasks 32 -v      # larger run with debug logging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, _ := cmd.Flags().GetInt("tasks")
			submitters, _ := cmd.Flags().GetInt("submitters")
			taskMillis, _ := cmd.Flags().GetInt("task-millis")
			return runSim(cmd.Context(), tasks, submitters, time.Duration(taskMillis)*time.Millisecond)
		},
	}

	cmd.Flags().Int("tasks", 8, "tasks per submitter")
	cmd.Flags().Int("submitters", 4, "concurrent submitting goroutines")
	cmd.Flags().Int("task-millis", 20, "duration of each simulated task")

	return cmd
}

func runSim(ctx context.Context, tasks, submitters int, taskDur time.Duration) error {
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

	var entered, exited atomic.Int64
	unsubscribe := coordinator.OnTransition(mode.ListenerFuncs{
		OnUnavailable: func() { entered.Add(1) },
		OnAvailable:   func() { exited.Add(1) },
	})
	defer unsubscribe()

	kinds := []string{"reindex", "compact", "refresh"}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < submitters; i++ {
		g.Go(func() error {
			for j := 0; j < tasks; j++ {
				item := &simItem{
					kind:     kinds[rand.Intn(len(kinds))],
					duration: taskDur,
				}
				if _, err := coordinator.Queue(item); err != nil {
					return fmt.Errorf("queue task: %w", err)
				}
			}
			return nil
		})
	}
	// A waiter per submitter exercises the wait path under contention.
	for i := 0; i < submitters; i++ {
		g.Go(func() error {
			coordinator.WaitUntilAvailable(gctx, cfg.WaitTimeout)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !coordinator.WaitUntilAvailable(ctx, 0) {
		return fmt.Errorf("engine never returned to available")
	}

	st := coordinator.Snapshot()
	fmt.Printf("simulated %d tasks in %s\n", tasks*submitters, time.Since(start).Round(time.Millisecond))
	fmt.Printf("final state: unavailable=%v outstanding=%d version=%d\n",
		st.Unavailable(), st.Outstanding(), st.Version())
	fmt.Printf("transitions: entered=%d exited=%d\n", entered.Load(), exited.Load())
	return nil
}
