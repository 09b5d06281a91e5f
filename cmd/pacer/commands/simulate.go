package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/pacer/internal/broker"
	"github.com/dyluth/pacer/internal/config"
	"github.com/dyluth/pacer/internal/printer"
	"github.com/dyluth/pacer/internal/simulator"
	"github.com/spf13/cobra"
)

var (
	simulateRunners  int
	simulateInterval time.Duration
	simulateCount    int
	simulateSeed     uint64
	simulateFormat   string
	simulateMaxLen   int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish simulated runner telemetry",
	Long: `Publish synthetic telemetry for one or more runners following predefined
routes at 60-100 km/h. Samples go to the configured queue.

Examples:
  # One runner, ten samples per second, until Ctrl-C
  pacer simulate

  # Five runners, 200 messages, positional array payloads
  pacer simulate --runners 5 --count 200 --format array`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulateRunners, "runners", 1, "Number of simulated runners")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", 100*time.Millisecond, "Time between samples")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 0, "Stop after this many messages (0 = until interrupted)")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "Random seed for reproducible runs (0 = random)")
	simulateCmd.Flags().StringVar(&simulateFormat, "format", simulator.FormatObject, "Payload format: object or array")
	simulateCmd.Flags().Int64Var(&simulateMaxLen, "max-len", 0, "Approximate cap on queue length (0 = unbounded)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Invalid configuration", err.Error(), nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pub, err := broker.NewStreamPublisher(connectCtx, cfg.BrokerURL, cfg.QueueName, simulateMaxLen)
	cancel()
	if err != nil {
		return printer.Error(
			"Failed to connect to broker",
			err.Error(),
			[]printer.Field{{Key: "Broker", Value: cfg.BrokerURL}},
			"Start Redis, e.g.: docker run -p 6379:6379 redis:7-alpine",
		)
	}
	defer pub.Close()

	sim, err := simulator.New(pub, simulator.Options{
		Runners:  simulateRunners,
		Interval: simulateInterval,
		Count:    simulateCount,
		Seed:     simulateSeed,
		Format:   simulateFormat,
	})
	if err != nil {
		return printer.Error("Invalid simulation options", err.Error(), nil)
	}

	printer.Step("Publishing to %s with %d runner(s)\n", cfg.QueueName, len(sim.Runners()))

	sent, err := sim.Run(ctx)
	if err != nil {
		return printer.Error("Simulation failed", err.Error(), nil)
	}

	printer.Success("Published %d message(s)\n", sent)
	return nil
}
