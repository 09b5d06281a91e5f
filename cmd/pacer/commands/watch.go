package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/pacer/internal/filter"
	"github.com/dyluth/pacer/internal/printer"
	"github.com/dyluth/pacer/internal/timespec"
	"github.com/dyluth/pacer/internal/watch"
	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	watchURL     string
	watchRunners []int64
	watchSince   string
	watchUntil   string
	watchCount   int

	watchWaitRunner int64
	watchTimeout    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the latest sample of a running bridge",
	Long: `Connect to the bridge's websocket feed and print each new latest sample.

Examples:
  # Follow everything
  pacer watch

  # Only runners 3 and 7, stop after 10 samples
  pacer watch --runner 3 --runner 7 --count 10

  # Ignore samples stamped more than a minute ago
  pacer watch --since 1m

  # Block until runner 4 reports (exit status 1 after the timeout)
  pacer watch --wait-runner 4 --timeout 30s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "http://localhost:8000", "Base URL of the bridge API")
	watchCmd.Flags().Int64SliceVar(&watchRunners, "runner", nil, "Only show these runner IDs (repeatable)")
	watchCmd.Flags().StringVar(&watchSince, "since", "", "Skip samples older than this (duration, RFC3339 or Unix ms)")
	watchCmd.Flags().StringVar(&watchUntil, "until", "", "Skip samples newer than this (duration, RFC3339 or Unix ms)")
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "Exit after this many samples (0 = until interrupted)")
	watchCmd.Flags().Int64Var(&watchWaitRunner, "wait-runner", 0, "Wait for one sample from this runner, print it and exit")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Second, "How long --wait-runner waits")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	criteria, err := watchCriteria(time.Now())
	if err != nil {
		return printer.Error("Invalid filter", err.Error(), nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("wait-runner") {
		return waitForRunner(ctx)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	conn, err := watch.Dial(dialCtx, watchURL)
	cancel()
	if err != nil {
		return printer.Error(
			"Failed to connect to bridge",
			err.Error(),
			[]printer.Field{{Key: "URL", Value: watchURL}},
			"Check that 'pacer bridge' is running",
		)
	}
	defer conn.Close()

	if criteria.HasFilters() {
		printer.Step("Watching %s (filtered)\n", watchURL)
	} else {
		printer.Step("Watching %s (all runners)\n", watchURL)
	}

	seen := 0
	err = watch.Stream(ctx, conn, criteria, func(s telemetry.Sample) error {
		printer.Sample(s)
		seen++
		if watchCount > 0 && seen >= watchCount {
			return watch.ErrStopWatching
		}
		return nil
	})
	if err != nil {
		return printer.Error("Watch ended", err.Error(), nil)
	}
	return nil
}

func waitForRunner(ctx context.Context) error {
	printer.Step("Waiting up to %s for runner %d\n", watchTimeout, watchWaitRunner)

	sample, err := watch.WaitForRunner(ctx, watchURL, watchWaitRunner, watchTimeout)
	if err != nil {
		return printer.Error(
			"Runner did not report",
			err.Error(),
			[]printer.Field{
				{Key: "URL", Value: watchURL},
				{Key: "Runner", Value: fmt.Sprintf("%d", watchWaitRunner)},
			},
			"Check that 'pacer bridge' is running",
			"Check that the simulator or producer is publishing",
		)
	}

	printer.Sample(sample)
	return nil
}

func watchCriteria(now time.Time) (filter.Criteria, error) {
	since, until, err := timespec.ParseRange(watchSince, watchUntil, now)
	if err != nil {
		return filter.Criteria{}, err
	}
	if watchCount < 0 {
		return filter.Criteria{}, fmt.Errorf("--count must be >= 0")
	}
	return filter.Criteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		RunnerIDs:        watchRunners,
	}, nil
}
