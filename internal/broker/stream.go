// Package broker carries the durable telemetry queue on Redis Streams.
//
// # Queue Model
//
// A queue is a Redis stream read through a consumer group:
//
//	stream:   {queue}            entries with fields body (payload) and ts (producer ms, optional)
//	group:    {group}            created with MKSTREAM from ID 0, so entries published
//	                              before the first consumer connected are still delivered
//	consumer: {consumer}         stable per process; owns its pending entries
//
// Entries stay pending until acknowledged with XACK. After a reconnect the consumer
// first re-reads its own pending entries, so anything delivered but not acknowledged
// before a crash is delivered again (at-least-once).
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrConnectionLost wraps every transport-level failure after Connect succeeded.
var ErrConnectionLost = errors.New("broker connection lost")

// ErrNotConnected is returned by Receive and Ack before Connect succeeded.
var ErrNotConnected = errors.New("broker not connected")

const (
	bodyField      = "body"
	timestampField = "ts"
	connectTimeout = 5 * time.Second
)

// Delivery is one message handed to the consumer.
type Delivery struct {
	ID          string // Stream entry ID, used for acknowledgement
	Body        []byte // Opaque payload
	TimestampMs int64  // Producer timestamp if present, else the broker-assigned entry time
}

// Broker is the consumer side of a durable queue.
type Broker interface {
	// Connect dials and declares the queue idempotently.
	Connect(ctx context.Context) error
	// Receive waits up to wait for deliveries; an empty result means none arrived.
	Receive(ctx context.Context, wait time.Duration) ([]Delivery, error)
	// Ack acknowledges a delivery so it is never redelivered.
	Ack(ctx context.Context, id string) error
	// Close releases the connection.
	Close() error
}

var _ Broker = (*StreamQueue)(nil)

// StreamOptions configures a StreamQueue.
type StreamOptions struct {
	URL       string // redis:// connection string
	Stream    string // Queue (stream) name
	Group     string // Consumer group
	Consumer  string // Consumer name within the group
	BatchSize int64  // Max entries per read (default 10)
}

// StreamQueue consumes one durable queue through a Redis consumer group.
// Receive and Ack are meant for a single goroutine; Close may be called from
// any goroutine and interrupts an in-progress Receive.
type StreamQueue struct {
	opts      StreamOptions
	redisOpts *redis.Options

	mu          sync.Mutex
	rdb         *redis.Client
	readPending bool
}

// NewStreamQueue validates opts. No connection is made until Connect.
func NewStreamQueue(opts StreamOptions) (*StreamQueue, error) {
	if opts.Stream == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	if opts.Group == "" {
		return nil, fmt.Errorf("consumer group cannot be empty")
	}
	if opts.Consumer == "" {
		return nil, fmt.Errorf("consumer name cannot be empty")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	return &StreamQueue{opts: opts, redisOpts: redisOpts}, nil
}

// Connect dials the broker and declares the consumer group idempotently.
// A previous connection, if any, is closed first.
func (q *StreamQueue) Connect(ctx context.Context) error {
	q.closeClient()

	rdb := redis.NewClient(q.redisOpts)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := rdb.Ping(connCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to reach broker: %w", err)
	}

	err := rdb.XGroupCreateMkStream(connCtx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		_ = rdb.Close()
		return fmt.Errorf("failed to declare queue %s: %w", q.opts.Stream, err)
	}

	q.mu.Lock()
	q.rdb = rdb
	q.readPending = true
	q.mu.Unlock()
	return nil
}

// Receive waits up to wait for entries. It returns (nil, nil) when nothing
// arrived in time. Pending entries of this consumer are returned first.
func (q *StreamQueue) Receive(ctx context.Context, wait time.Duration) ([]Delivery, error) {
	q.mu.Lock()
	rdb, pending := q.rdb, q.readPending
	q.mu.Unlock()

	if rdb == nil {
		return nil, ErrNotConnected
	}

	args := &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    q.opts.BatchSize,
		Block:    wait,
	}
	if pending {
		// Pending entries are returned immediately; no BLOCK argument.
		args.Streams[1] = "0"
		args.Block = -1
	}

	streams, err := rdb.XReadGroup(ctx, args).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			deliveries = append(deliveries, toDelivery(msg))
		}
	}

	if pending && len(deliveries) == 0 {
		q.mu.Lock()
		q.readPending = false
		q.mu.Unlock()
	}

	return deliveries, nil
}

// Ack acknowledges one entry.
func (q *StreamQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	rdb := q.rdb
	q.mu.Unlock()

	if rdb == nil {
		return ErrNotConnected
	}
	if err := rdb.XAck(ctx, q.opts.Stream, q.opts.Group, id).Err(); err != nil {
		return fmt.Errorf("%w: ack %s: %v", ErrConnectionLost, id, err)
	}
	return nil
}

// Close closes the connection. Safe to call repeatedly.
func (q *StreamQueue) Close() error {
	return q.closeClient()
}

func (q *StreamQueue) closeClient() error {
	q.mu.Lock()
	rdb := q.rdb
	q.rdb = nil
	q.mu.Unlock()

	if rdb == nil {
		return nil
	}
	return rdb.Close()
}

func toDelivery(msg redis.XMessage) Delivery {
	d := Delivery{ID: msg.ID, TimestampMs: entryTimestamp(msg.ID)}

	switch body := msg.Values[bodyField].(type) {
	case string:
		d.Body = []byte(body)
	case []byte:
		d.Body = body
	}

	if raw, ok := msg.Values[timestampField].(string); ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil && ts > 0 {
			d.TimestampMs = ts
		}
	}

	return d
}

// entryTimestamp extracts the millisecond part of a stream entry ID ("<ms>-<seq>").
func entryTimestamp(id string) int64 {
	ms, _, _ := strings.Cut(id, "-")
	ts, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
