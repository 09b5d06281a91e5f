// Package consumer moves telemetry from the durable queue into the cache and
// the persistence runtime.
//
// A Loop runs on a single goroutine. Per delivery it decodes the payload, updates
// the shared cache, hands a WriteTask to the persistence runtime without waiting
// for it, and acknowledges the delivery. Acknowledgement never depends on the
// outcome of the write, so storage trouble cannot cause redelivery storms. The
// loop observes its StopSignal at least once per poll interval.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dyluth/pacer/internal/broker"
	"github.com/dyluth/pacer/internal/lifecycle"
	"github.com/dyluth/pacer/internal/metrics"
	"github.com/dyluth/pacer/internal/persist"
	"github.com/dyluth/pacer/internal/state"
	"github.com/dyluth/pacer/pkg/telemetry"
)

// ErrStopped is returned by Connect when the StopSignal aborted it.
var ErrStopped = errors.New("consumer stopped")

// ErrConnectionLost is returned by Run when the broker connection failed mid-run.
var ErrConnectionLost = broker.ErrConnectionLost

// Submitter is the persistence runtime as seen by the loop.
type Submitter interface {
	Submit(task persist.WriteTask) error
	Results() <-chan persist.Result
}

// Options configures a Loop.
type Options struct {
	Queue             string        // Queue name, for logs and metrics
	Group             string        // Consumer group, for logs
	Collection        string        // Target collection for WriteTasks
	ConnectRetryDelay time.Duration // Pause between failed connects (default 5s)
	PollInterval      time.Duration // Max blocking wait per receive (default 1s)
	AckTimeout        time.Duration // Deadline for one acknowledgement (default 5s)
	Metrics           *metrics.Recorder
}

// Loop consumes one queue.
type Loop struct {
	broker  broker.Broker
	cache   *state.Cache
	runtime Submitter
	stop    *lifecycle.StopSignal
	opts    Options
	metrics *metrics.Recorder

	live atomic.Bool
}

// New creates a loop. stop is shared with the coordinator that owns the bridge.
func New(b broker.Broker, cache *state.Cache, runtime Submitter, stop *lifecycle.StopSignal, opts Options) *Loop {
	if opts.ConnectRetryDelay <= 0 {
		opts.ConnectRetryDelay = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.Noop()
	}

	return &Loop{
		broker:    b,
		cache:     cache,
		runtime:   runtime,
		stop:      stop,
		opts:      opts,
		metrics:   m,
	}
}

// Connect connects to the broker and declares the queue, retrying every
// ConnectRetryDelay until it succeeds. Between attempts it waits on the
// StopSignal, and returns ErrStopped as soon as the signal is set.
func (l *Loop) Connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if l.stop.IsSet() || ctx.Err() != nil {
			return ErrStopped
		}

		err := l.broker.Connect(ctx)
		if err == nil {
			l.live.Store(true)
			l.logEvent("consumer_connected", map[string]interface{}{
				"attempt": attempt,
			})
			return nil
		}

		if l.stop.IsSet() || ctx.Err() != nil {
			return ErrStopped
		}

		log.Printf("[WARN] Connection attempt %d to queue %s failed, retrying in %s: %v",
			attempt, l.opts.Queue, l.opts.ConnectRetryDelay, err)

		timer := time.NewTimer(l.opts.ConnectRetryDelay)
		select {
		case <-l.stop.Done():
			timer.Stop()
			return ErrStopped
		case <-ctx.Done():
			timer.Stop()
			return ErrStopped
		case <-timer.C:
		}
	}
}

// Run connects if needed and consumes until the StopSignal is set (returns nil)
// or the connection is lost (returns an error wrapping ErrConnectionLost).
// The broker connection is closed when Run returns. Run never reconnects after
// a loss; restarting is the caller's decision.
func (l *Loop) Run(ctx context.Context) error {
	if !l.live.Load() {
		if err := l.Connect(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
	defer l.disconnect()

	for {
		l.drainResults(ctx)

		if l.stopping(ctx) {
			l.logEvent("consumer_stopped", map[string]interface{}{})
			return nil
		}

		deliveries, err := l.broker.Receive(ctx, l.opts.PollInterval)
		if err != nil {
			if l.stopping(ctx) {
				l.logEvent("consumer_stopped", map[string]interface{}{})
				return nil
			}
			return l.lost(err)
		}

		for _, d := range deliveries {
			// Unacknowledged deliveries are redelivered on the next connect.
			if l.stopping(ctx) {
				break
			}
			if err := l.handle(ctx, d); err != nil {
				return l.lost(err)
			}
		}
	}
}

// handle processes one delivery and acknowledges it.
func (l *Loop) handle(ctx context.Context, d broker.Delivery) error {
	start := time.Now()

	sample, err := telemetry.Decode(d.Body, d.TimestampMs)
	decoded := err == nil
	if !decoded {
		log.Printf("[WARN] Discarding malformed message %s: %v", d.ID, err)
		l.metrics.MessageMalformed(ctx)
	} else {
		l.cache.Update(sample)

		if err := l.runtime.Submit(persist.NewWriteTask(sample, l.opts.Collection)); err != nil {
			log.Printf("[ERROR] Sample for runner %d not persisted: %v", sample.RunnerID, err)
			l.metrics.PersistFailed(ctx, "refused")
		}
	}

	// Ack even during shutdown: the message was already applied.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.AckTimeout)
	defer cancel()

	if err := l.broker.Ack(ackCtx, d.ID); err != nil {
		return fmt.Errorf("failed to acknowledge %s: %w", d.ID, err)
	}

	if decoded {
		l.metrics.MessageProcessed(ctx, time.Since(start), time.Now())
	}
	return nil
}

// drainResults consumes every write outcome currently available.
func (l *Loop) drainResults(ctx context.Context) {
	results := l.runtime.Results()
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			l.report(ctx, res)
		default:
			return
		}
	}
}

// DrainResults reports the outcomes of writes that finish after Run has
// returned. It blocks until the runtime closes its results channel or
// timeout elapses, so call it after the runtime has been told to stop.
func (l *Loop) DrainResults(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	results := l.runtime.Results()
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			l.report(context.Background(), res)
		case <-timer.C:
			log.Printf("[WARN] Stopped waiting for write results after %s", timeout)
			return
		}
	}
}

func (l *Loop) report(ctx context.Context, res persist.Result) {
	if !res.Failed() {
		return
	}
	log.Printf("[ERROR] Write of sample for runner %d to %s failed after %s: %v",
		res.RunnerID, res.Collection, res.Duration, res.Err)
	l.metrics.PersistFailed(ctx, "write")
}

func (l *Loop) lost(err error) error {
	if !errors.Is(err, ErrConnectionLost) {
		err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	l.logEvent("consumer_connection_lost", map[string]interface{}{
		"error": err.Error(),
	})
	return fmt.Errorf("consuming queue %s: %w", l.opts.Queue, err)
}

func (l *Loop) stopping(ctx context.Context) bool {
	return l.stop.IsSet() || ctx.Err() != nil
}

func (l *Loop) disconnect() {
	l.live.Store(false)
	if err := l.broker.Close(); err != nil {
		log.Printf("[WARN] Failed to close broker connection: %v", err)
	}
}

// Stop raises the StopSignal. Run returns within one poll interval.
func (l *Loop) Stop() {
	l.stop.Set()
}

// Close releases the broker connection if Run did not already.
func (l *Loop) Close() error {
	return l.broker.Close()
}

// Live reports whether the loop holds a working broker connection.
func (l *Loop) Live() bool {
	return l.live.Load()
}

// logEvent writes a structured JSON log line for loop lifecycle events.
func (l *Loop) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "consumer"
	data["event_type"] = eventType
	data["queue"] = l.opts.Queue
	data["group"] = l.opts.Group

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Consumer] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
