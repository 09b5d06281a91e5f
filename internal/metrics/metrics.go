// Package metrics defines the bridge's OpenTelemetry instruments.
//
// Instruments are created on whatever meter is passed in. The bridge uses the
// global meter, so they are exported by any provider the process installs and
// cost nothing when none is installed.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName identifies the bridge's instrumentation scope.
const MeterName = "github.com/dyluth/pacer"

// Instrument names.
const (
	ProcessedName     = "consumer_messages_processed_total"
	MalformedName     = "consumer_messages_malformed_total"
	PersistFailedName = "consumer_persist_failures_total"
	DurationName      = "consumer_message_processing_duration_seconds"
	LastProcessedName = "consumer_last_message_processed_timestamp_seconds"
)

// Recorder records consumer loop activity.
type Recorder struct {
	processed     metric.Int64Counter
	malformed     metric.Int64Counter
	persistFailed metric.Int64Counter
	duration      metric.Float64Histogram
	lastProcessed metric.Float64Gauge
	queue         attribute.KeyValue
}

// New creates the instruments on meter. queue labels every measurement.
func New(meter metric.Meter, queue string) (*Recorder, error) {
	r := &Recorder{queue: attribute.String("queue", queue)}
	var err error

	r.processed, err = meter.Int64Counter(ProcessedName,
		metric.WithDescription("Messages consumed and acknowledged"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", ProcessedName, err)
	}

	r.malformed, err = meter.Int64Counter(MalformedName,
		metric.WithDescription("Messages that failed to decode"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MalformedName, err)
	}

	r.persistFailed, err = meter.Int64Counter(PersistFailedName,
		metric.WithDescription("Samples that were refused by or failed in the persistence runtime"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", PersistFailedName, err)
	}

	r.duration, err = meter.Float64Histogram(DurationName,
		metric.WithDescription("Time from receipt to acknowledgement"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", DurationName, err)
	}

	r.lastProcessed, err = meter.Float64Gauge(LastProcessedName,
		metric.WithDescription("Unix time of the last processed message"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", LastProcessedName, err)
	}

	return r, nil
}

// NewGlobal creates the instruments on the global meter provider.
func NewGlobal(queue string) (*Recorder, error) {
	return New(otel.Meter(MeterName), queue)
}

// Noop returns a recorder that discards everything.
func Noop() *Recorder {
	r, _ := New(noop.NewMeterProvider().Meter(MeterName), "")
	return r
}

// MessageProcessed records one acknowledged message.
func (r *Recorder) MessageProcessed(ctx context.Context, took time.Duration, at time.Time) {
	set := metric.WithAttributes(r.queue)
	r.processed.Add(ctx, 1, set)
	r.duration.Record(ctx, took.Seconds(), set)
	r.lastProcessed.Record(ctx, float64(at.UnixMilli())/1000, set)
}

// MessageMalformed records one payload that could not be decoded.
func (r *Recorder) MessageMalformed(ctx context.Context) {
	r.malformed.Add(ctx, 1, metric.WithAttributes(r.queue))
}

// PersistFailed records one sample that did not reach the store.
// reason is "refused" (never accepted) or "write" (failed while executing).
func (r *Recorder) PersistFailed(ctx context.Context, reason string) {
	r.persistFailed.Add(ctx, 1, metric.WithAttributes(r.queue, attribute.String("reason", reason)))
}
