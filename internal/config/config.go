// Package config provides configuration loading and management for Faultline.
// It supports loading configuration from YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"faultline/internal/domain"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// Environment variables that override connection secrets from the file.
const (
	EnvRedisPassword    = "FAULTLINE_REDIS_PASSWORD"
	EnvPostgresPassword = "FAULTLINE_POSTGRES_PASSWORD"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// Config represents the complete application configuration.
type Config struct {
	Storage   StorageConfig                `yaml:"storage"`
	Server    ServerConfig                 `yaml:"server"`
	Kafka     KafkaConfig                  `yaml:"kafka"`
	Redis     RedisConfig                  `yaml:"redis"`
	Postgres  PostgresConfig               `yaml:"postgres"`
	Logger    LoggerConfig                 `yaml:"logger"`
	Tracker   TrackerConfig                `yaml:"tracker"`
	Retention RetentionConfig              `yaml:"retention"`
	Channels  []domain.NotificationChannel `yaml:"channels"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	// CaptureTopic carries capture requests from remote services.
	CaptureTopic string `yaml:"capture_topic"`
	// AlertTopic is the default topic for kafka notification channels.
	AlertTopic    string `yaml:"alert_topic"`
	ConsumerGroup string `yaml:"consumer_group"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// TrackerConfig holds the capture pipeline settings.
type TrackerConfig struct {
	// FlushInterval is the period of the background buffer flush.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushParallelism bounds how many hash groups are aggregated at once.
	FlushParallelism int `yaml:"flush_parallelism"`

	// RecentContexts is the size of each group's recent-context ring.
	RecentContexts int `yaml:"recent_contexts"`

	// FrequencyThreshold is the default recent-occurrence count a channel
	// must see exceeded before a frequency alert.
	FrequencyThreshold int64 `yaml:"frequency_threshold"`

	// RecentWindow is the expiry of the per-hash recent-occurrence counter.
	RecentWindow time.Duration `yaml:"recent_window"`

	AlertQueueSize   int           `yaml:"alert_queue_size"`
	AlertWorkers     int           `yaml:"alert_workers"`
	AlertSendTimeout time.Duration `yaml:"alert_send_timeout"`

	// TopErrorsLimit bounds the top and recent error lists in stats.
	TopErrorsLimit int `yaml:"top_errors_limit"`

	// Environment and Version are stamped onto contexts that omit them.
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// RetentionConfig holds the group retention job settings.
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and environment
// overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if !c.Storage.Mode.IsValid() {
		return fmt.Errorf("invalid storage mode %q", c.Storage.Mode)
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("invalid channel %d (%s): %w", i, ch.Name, err)
		}
		if _, dup := seen[ch.Name]; dup {
			return fmt.Errorf("duplicate channel name %q", ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}
	return nil
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.CaptureTopic == "" {
		cfg.Kafka.CaptureTopic = "faultline-captures"
	}
	if cfg.Kafka.AlertTopic == "" {
		cfg.Kafka.AlertTopic = "faultline-alerts"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "faultline-ingest"
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "faultline:"
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}

	// Tracker defaults
	if cfg.Tracker.FlushInterval == 0 {
		cfg.Tracker.FlushInterval = 30 * time.Second
	}
	if cfg.Tracker.FlushParallelism == 0 {
		cfg.Tracker.FlushParallelism = 8
	}
	if cfg.Tracker.RecentContexts == 0 {
		cfg.Tracker.RecentContexts = 5
	}
	if cfg.Tracker.FrequencyThreshold == 0 {
		cfg.Tracker.FrequencyThreshold = 10
	}
	if cfg.Tracker.RecentWindow == 0 {
		cfg.Tracker.RecentWindow = time.Hour
	}
	if cfg.Tracker.AlertQueueSize == 0 {
		cfg.Tracker.AlertQueueSize = 1024
	}
	if cfg.Tracker.AlertWorkers == 0 {
		cfg.Tracker.AlertWorkers = 4
	}
	if cfg.Tracker.AlertSendTimeout == 0 {
		cfg.Tracker.AlertSendTimeout = 5 * time.Second
	}
	if cfg.Tracker.TopErrorsLimit == 0 {
		cfg.Tracker.TopErrorsLimit = 10
	}
	if cfg.Tracker.Environment == "" {
		cfg.Tracker.Environment = "development"
	}

	// Retention defaults
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@daily"
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = 30 * 24 * time.Hour
	}
}

// applyEnv overrides connection secrets from the environment so they never
// have to live in the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv(EnvPostgresPassword); v != "" {
		cfg.Postgres.Password = v
	}
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
