package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveLatest(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest-data", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFetchLatest(t *testing.T) {
	t.Run("sample", func(t *testing.T) {
		url := serveLatest(t, http.StatusOK, `{"runnerId":7,"positionX":1.5,"positionY":2.5,"speedX":3,"speedY":4,"timestampMs":99}`)

		result, err := fetchLatest(context.Background(), http.DefaultClient, url+"/")
		require.NoError(t, err)
		require.NotNil(t, result.sample)
		assert.Equal(t, int64(7), result.sample.RunnerID)
		assert.Equal(t, 2.5, result.sample.PositionY)
		assert.Equal(t, int64(99), result.sample.TimestampMs)
	})

	t.Run("placeholder", func(t *testing.T) {
		url := serveLatest(t, http.StatusServiceUnavailable, `{"status":"waiting for data","timestamp":1718000000000}`)

		result, err := fetchLatest(context.Background(), http.DefaultClient, url)
		require.NoError(t, err)
		assert.Nil(t, result.sample)
		assert.Equal(t, "waiting for data", result.placeholder.Status)
		assert.Equal(t, int64(1718000000000), result.placeholder.TimestampMs)
	})

	t.Run("unexpected status", func(t *testing.T) {
		url := serveLatest(t, http.StatusInternalServerError, `oops`)

		_, err := fetchLatest(context.Background(), http.DefaultClient, url)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status")
	})

	t.Run("undecodable body", func(t *testing.T) {
		url := serveLatest(t, http.StatusOK, `[1,2,3]`)

		_, err := fetchLatest(context.Background(), http.DefaultClient, url)
		assert.ErrorContains(t, err, "failed to decode sample")
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := fetchLatest(context.Background(), http.DefaultClient, "http://127.0.0.1:1")
		assert.Error(t, err)
	})
}
