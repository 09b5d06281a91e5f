package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamPublisher appends telemetry payloads to a queue stream.
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher connects to the broker at url and verifies it answers.
// maxLen > 0 caps the stream length approximately; 0 keeps every entry.
func NewStreamPublisher(ctx context.Context, url, stream string, maxLen int64) (*StreamPublisher, error) {
	if stream == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach broker: %w", err)
	}

	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: maxLen}, nil
}

// Publish appends body with an optional producer timestamp (0 omits it).
// Returns the broker-assigned entry ID.
func (p *StreamPublisher) Publish(ctx context.Context, body []byte, timestampMs int64) (string, error) {
	values := map[string]interface{}{bodyField: body}
	if timestampMs > 0 {
		values[timestampField] = timestampMs
	}

	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return id, nil
}

// Close closes the connection.
func (p *StreamPublisher) Close() error {
	return p.rdb.Close()
}
