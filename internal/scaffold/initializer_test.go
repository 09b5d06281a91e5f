package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/pacer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitialize(t *testing.T) {
	t.Run("fresh directory", func(t *testing.T) {
		dir := t.TempDir()

		written, err := Initialize(dir, false)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, ConfigFile), filepath.Join(dir, ComposeFile)}, written)

		cfg, err := config.Load(filepath.Join(dir, ConfigFile))
		require.NoError(t, err)
		assert.Equal(t, "real_time_data", cfg.QueueName)
		assert.Equal(t, "sqlite://pacer.db", cfg.StoreDSN)
		assert.NotEmpty(t, cfg.ConsumerName, "commented consumer_name keeps the hostname default")

		content, err := os.ReadFile(filepath.Join(dir, ComposeFile))
		require.NoError(t, err)
		var compose map[string]interface{}
		require.NoError(t, yaml.Unmarshal(content, &compose))
		assert.Contains(t, compose, "services")
		assert.Contains(t, string(content), "redis:7-alpine")
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "project")

		_, err := Initialize(dir, false)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, ConfigFile))
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("queue_name: mine\n"), 0644))

		_, err := Initialize(dir, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already initialized")

		content, err := os.ReadFile(filepath.Join(dir, ConfigFile))
		require.NoError(t, err)
		assert.Equal(t, "queue_name: mine\n", string(content))
	})

	t.Run("force overwrites", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("queue_name: mine\n"), 0644))

		_, err := Initialize(dir, true)
		require.NoError(t, err)

		content, err := os.ReadFile(filepath.Join(dir, ConfigFile))
		require.NoError(t, err)
		assert.Contains(t, string(content), `queue_name: "real_time_data"`)
	})
}
