package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dyluth/pacer/internal/store"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of a pacer process.
// Precedence: defaults, then the YAML file, then PACER_* environment variables.
type Config struct {
	// Broker
	BrokerURL    string `yaml:"broker_url" env:"PACER_BROKER_URL"`
	QueueName    string `yaml:"queue_name" env:"PACER_QUEUE_NAME"`
	GroupID      string `yaml:"group_id" env:"PACER_GROUP_ID"`
	ConsumerName string `yaml:"consumer_name" env:"PACER_CONSUMER_NAME"` // Defaults to the hostname

	// Storage
	StoreDSN           string `yaml:"store_dsn" env:"PACER_STORE_DSN"`
	Collection         string `yaml:"collection" env:"PACER_COLLECTION"`
	PersistQueueSize   int    `yaml:"persist_queue_size" env:"PACER_PERSIST_QUEUE_SIZE"`
	PersistConcurrency int    `yaml:"persist_concurrency" env:"PACER_PERSIST_CONCURRENCY"`

	// Timing
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay" env:"PACER_CONNECT_RETRY_DELAY"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"PACER_POLL_INTERVAL"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"PACER_SHUTDOWN_TIMEOUT"`

	// Supervision
	RestartOnLoss bool          `yaml:"restart_on_loss" env:"PACER_RESTART_ON_LOSS"`
	RestartDelay  time.Duration `yaml:"restart_delay" env:"PACER_RESTART_DELAY"`

	// HTTP API
	HTTPAddr          string        `yaml:"http_addr" env:"PACER_HTTP_ADDR"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval" env:"PACER_BROADCAST_INTERVAL"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	consumer, err := os.Hostname()
	if err != nil || consumer == "" {
		consumer = "pacer"
	}

	return &Config{
		BrokerURL:          "redis://localhost:6379/0",
		QueueName:          "real_time_data",
		GroupID:            "my-group",
		ConsumerName:       consumer,
		StoreDSN:           "sqlite://pacer.db",
		Collection:         "telemetry",
		PersistQueueSize:   256,
		PersistConcurrency: 4,
		ConnectRetryDelay:  5 * time.Second,
		PollInterval:       time.Second,
		ShutdownTimeout:    5 * time.Second,
		RestartOnLoss:      true,
		RestartDelay:       5 * time.Second,
		HTTPAddr:           ":8000",
		BroadcastInterval:  250 * time.Millisecond,
	}
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BrokerURL, "redis://") && !strings.HasPrefix(c.BrokerURL, "rediss://") {
		return fmt.Errorf("broker_url must be a redis:// or rediss:// URL, got %q", c.BrokerURL)
	}

	if c.QueueName == "" {
		return fmt.Errorf("queue_name is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}

	if c.StoreDSN == "" {
		return fmt.Errorf("store_dsn is required")
	}
	if err := store.ValidateCollection(c.Collection); err != nil {
		return err
	}

	if c.PersistQueueSize < 1 {
		return fmt.Errorf("persist_queue_size must be >= 1")
	}
	if c.PersistConcurrency < 1 {
		return fmt.Errorf("persist_concurrency must be >= 1")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"connect_retry_delay", c.ConnectRetryDelay},
		{"poll_interval", c.PollInterval},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"restart_delay", c.RestartDelay},
		{"broadcast_interval", c.BroadcastInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}

	return nil
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
