// Package watch follows a running bridge through its websocket feed.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/pacer/internal/filter"
	"github.com/dyluth/pacer/internal/state"
	"github.com/dyluth/pacer/pkg/telemetry"
	"golang.org/x/net/websocket"
)

// ErrStopWatching may be returned by a Handler to end Stream without error.
var ErrStopWatching = errors.New("stop watching")

// Handler receives each matching sample.
type Handler func(telemetry.Sample) error

// Dial opens the /ws feed of the bridge at baseURL (http:// or https://).
func Dial(ctx context.Context, baseURL string) (*websocket.Conn, error) {
	base := strings.TrimRight(baseURL, "/")
	var wsURL string
	switch {
	case strings.HasPrefix(base, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return nil, fmt.Errorf("bridge URL must start with http:// or https://, got %q", baseURL)
	}

	cfg, err := websocket.NewConfig(wsURL, base)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}

	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	return conn, nil
}

// Stream reads snapshots from conn and calls fn for every sample matching
// criteria. Placeholder snapshots are skipped. It returns when ctx is done,
// the connection ends, or fn returns an error (ErrStopWatching yields nil).
func Stream(ctx context.Context, conn *websocket.Conn, criteria filter.Criteria, fn Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var raw json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed closed: %w", err)
		}

		sample, ok, err := decodeSnapshot(raw)
		if err != nil {
			return err
		}
		if !ok || !criteria.Matches(sample) {
			continue
		}

		if err := fn(sample); err != nil {
			if errors.Is(err, ErrStopWatching) {
				return nil
			}
			return err
		}
	}
}

// WaitForRunner waits until the feed shows a sample from runnerID.
// Returns an error if timeout elapses first.
func WaitForRunner(ctx context.Context, baseURL string, runnerID int64, timeout time.Duration) (telemetry.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := Dial(ctx, baseURL)
	if err != nil {
		return telemetry.Sample{}, err
	}
	defer conn.Close()

	var found telemetry.Sample
	var seen bool
	err = Stream(ctx, conn, filter.Criteria{RunnerIDs: []int64{runnerID}}, func(s telemetry.Sample) error {
		found, seen = s, true
		return ErrStopWatching
	})
	if err != nil {
		return telemetry.Sample{}, err
	}
	if !seen {
		return telemetry.Sample{}, fmt.Errorf("timeout waiting for runner %d after %v", runnerID, timeout)
	}
	return found, nil
}

// decodeSnapshot tells samples from the placeholder by the status field.
func decodeSnapshot(raw json.RawMessage) (telemetry.Sample, bool, error) {
	var probe struct {
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return telemetry.Sample{}, false, fmt.Errorf("unexpected frame: %w", err)
	}
	if probe.Status != nil && *probe.Status == state.WaitingStatus {
		return telemetry.Sample{}, false, nil
	}

	var s telemetry.Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		return telemetry.Sample{}, false, fmt.Errorf("unexpected frame: %w", err)
	}
	return s, true, nil
}
