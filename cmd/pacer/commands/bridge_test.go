package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/pacer/internal/broker"
	"github.com/dyluth/pacer/internal/config"
	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BrokerURL = "redis://" + mr.Addr()
	cfg.ConsumerName = "bridge-test"
	cfg.StoreDSN = "sqlite://" + filepath.Join(t.TempDir(), "pacer.db")
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.PollInterval = 50 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestStartBridge_ServesLatestSample(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)

	b, err := startBridge(context.Background(), cfg)
	require.NoError(t, err)
	defer b.shutdown()

	base := "http://" + b.server.Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	pub, err := broker.NewStreamPublisher(context.Background(), cfg.BrokerURL, cfg.QueueName, 0)
	require.NoError(t, err)
	defer pub.Close()

	_, err = pub.Publish(context.Background(), []byte(`[5, 1.25, 2.5, 0.5, 0.25]`), 1718000000000)
	require.NoError(t, err)

	var got telemetry.Sample
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/latest-data")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&got) == nil
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, telemetry.Sample{RunnerID: 5, PositionX: 1.25, PositionY: 2.5, SpeedX: 0.5, SpeedY: 0.25, TimestampMs: 1718000000000}, got)

	require.NoError(t, b.shutdown())
	assert.False(t, b.coord.Ready())
}

func TestStartBridge_StoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.StoreDSN = "sqlite://" + filepath.Join(t.TempDir(), "missing", "dir", "pacer.db")

	_, err := startBridge(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistence runtime")
}

func TestStartBridge_UnsupportedStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.StoreDSN = "mongodb://localhost:27017"

	_, err := startBridge(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
