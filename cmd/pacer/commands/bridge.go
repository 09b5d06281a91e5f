package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/pacer/internal/api"
	"github.com/dyluth/pacer/internal/broker"
	"github.com/dyluth/pacer/internal/config"
	"github.com/dyluth/pacer/internal/consumer"
	"github.com/dyluth/pacer/internal/lifecycle"
	"github.com/dyluth/pacer/internal/metrics"
	"github.com/dyluth/pacer/internal/persist"
	"github.com/dyluth/pacer/internal/printer"
	"github.com/dyluth/pacer/internal/state"
	"github.com/dyluth/pacer/internal/store"
	"github.com/spf13/cobra"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the ingestion bridge and HTTP API",
	Long: `Run the ingestion bridge: consume telemetry from the queue, keep the latest
sample in memory, persist every sample, and serve the HTTP API.

Endpoints:
  GET /latest-data   latest sample (503 until the first one arrives)
  GET /healthz       consumer readiness
  GET /ws            websocket feed of the latest sample

Examples:
  # Defaults: redis://localhost:6379/0, queue real_time_data, sqlite://pacer.db
  pacer bridge

  # Persist to Redis instead of SQLite
  PACER_STORE_DSN=redis://localhost:6379/1 pacer bridge`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error(
			"Invalid configuration",
			err.Error(),
			nil,
			"Check the PACER_* environment variables",
			"Check the file passed with --config",
		)
	}

	printer.Step("Starting bridge for queue %s (group %s)\n", cfg.QueueName, cfg.GroupID)

	b, err := startBridge(cmd.Context(), cfg)
	if err != nil {
		return printer.Error(
			"Failed to start bridge",
			err.Error(),
			[]printer.Field{
				{Key: "Store", Value: cfg.StoreDSN},
				{Key: "Collection", Value: cfg.Collection},
				{Key: "HTTP", Value: cfg.HTTPAddr},
			},
		)
	}

	printer.Success("Bridge running, API on %s\n", b.server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Printf("[INFO] Received signal: %v", sig)
	case <-b.coord.Done():
		log.Printf("[WARN] Consumer exited: %v", b.coord.Err())
	}

	log.Printf("[INFO] Initiating graceful shutdown...")
	if err := b.shutdown(); err != nil {
		printer.Warning("Shutdown finished with errors: %v\n", err)
	}

	if err := b.coord.Err(); err != nil && !cfg.RestartOnLoss {
		return printer.Error("Consumer stopped", err.Error(), nil,
			"Check that the broker is reachable",
			"Set PACER_RESTART_ON_LOSS=true to reconnect automatically",
		)
	}

	printer.Success("Bridge stopped\n")
	return nil
}

// bridge is a running ingestion bridge plus its API server.
type bridge struct {
	cfg    *config.Config
	cache  *state.Cache
	coord  *lifecycle.Coordinator
	server *api.Server
}

// startBridge wires and starts every component. On error nothing is left running.
func startBridge(ctx context.Context, cfg *config.Config) (*bridge, error) {
	recorder, err := metrics.NewGlobal(cfg.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	queue, err := broker.NewStreamQueue(broker.StreamOptions{
		URL:      cfg.BrokerURL,
		Stream:   cfg.QueueName,
		Group:    cfg.GroupID,
		Consumer: cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	stop := lifecycle.NewStopSignal()
	cache := state.NewCache()

	runtime := persist.New(persist.Options{
		Open:        func() (store.Store, error) { return store.Open(cfg.StoreDSN) },
		Collection:  cfg.Collection,
		QueueSize:   cfg.PersistQueueSize,
		Concurrency: cfg.PersistConcurrency,
	})

	loop := consumer.New(queue, cache, runtime, stop, consumer.Options{
		Queue:             cfg.QueueName,
		Group:             cfg.GroupID,
		Collection:        cfg.Collection,
		ConnectRetryDelay: cfg.ConnectRetryDelay,
		PollInterval:      cfg.PollInterval,
		Metrics:           recorder,
	})

	coord := lifecycle.New(stop, runtime, loop, lifecycle.Options{
		ShutdownTimeout: cfg.ShutdownTimeout,
		RestartOnLoss:   cfg.RestartOnLoss,
		RestartDelay:    cfg.RestartDelay,
	})

	server := api.NewServer(cache, coord, api.Options{
		Addr:              cfg.HTTPAddr,
		ConsumerGroup:     cfg.GroupID,
		BroadcastInterval: cfg.BroadcastInterval,
	})

	if err := coord.Start(ctx); err != nil {
		_ = coord.Shutdown()
		return nil, err
	}

	if err := server.Start(); err != nil {
		_ = coord.Shutdown()
		return nil, err
	}

	return &bridge{cfg: cfg, cache: cache, coord: coord, server: server}, nil
}

// shutdown stops the API first so no reader outlives the bridge, then the bridge.
func (b *bridge) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := b.server.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] API server shutdown error: %v", err)
		errs = append(errs, err)
	}

	start := time.Now()
	if err := b.coord.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	log.Printf("[INFO] Bridge shutdown took %s", time.Since(start).Round(time.Millisecond))

	return errors.Join(errs...)
}
