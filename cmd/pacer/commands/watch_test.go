package commands

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dyluth/pacer/internal/api"
	"github.com/dyluth/pacer/internal/state"
	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveFeed(t *testing.T, cache *state.Cache) string {
	t.Helper()
	srv := api.NewServer(cache, nil, api.Options{BroadcastInterval: 5 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return ts.URL
}

func resetWatchFlags(t *testing.T) {
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		watchURL, watchWaitRunner, watchTimeout = "http://localhost:8000", 0, 30*time.Second
		watchCmd.Flags().Lookup("wait-runner").Changed = false
		watchCmd.Flags().Lookup("timeout").Changed = false
		watchCmd.Flags().Lookup("url").Changed = false
	})
}

func TestWatchCommand_WaitRunner(t *testing.T) {
	t.Run("runner reports", func(t *testing.T) {
		resetWatchFlags(t)
		cache := state.NewCache()
		url := serveFeed(t, cache)

		go func() {
			time.Sleep(20 * time.Millisecond)
			cache.Update(telemetry.Sample{RunnerID: 2, TimestampMs: 100})
			time.Sleep(20 * time.Millisecond)
			cache.Update(telemetry.Sample{RunnerID: 4, TimestampMs: 200})
		}()

		rootCmd.SetArgs([]string{"watch", "--url", url, "--wait-runner", "4", "--timeout", "2s"})
		require.NoError(t, rootCmd.Execute())
	})

	t.Run("timeout", func(t *testing.T) {
		resetWatchFlags(t)
		cache := state.NewCache()
		cache.Update(telemetry.Sample{RunnerID: 1, TimestampMs: 100})
		url := serveFeed(t, cache)

		rootCmd.SetArgs([]string{"watch", "--url", url, "--wait-runner", "99", "--timeout", "50ms"})
		start := time.Now()
		err := rootCmd.Execute()
		require.Error(t, err)
		assert.Equal(t, "Runner did not report", err.Error())
		assert.True(t, time.Since(start) < 2*time.Second)
	})
}
