package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Snapshot  SnapshotConfig
	Lifecycle LifecycleConfig
	Health    HealthConfig
	Tracing   TracingConfig
}

// ServerConfig contains HTTP control-plane configuration
type ServerConfig struct {
	Host string
	Port int
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig contains persistent store configuration
type StorageConfig struct {
	Type       string // "memory", "badger"
	DataDir    string
	SyncWrites bool
	Tables     []string // managed tables captured by snapshots
}

// QueueConfig contains operation queue and retry executor configuration
type QueueConfig struct {
	RetryCeiling   int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	FlushInterval  time.Duration
	FlushBatchSize int
}

// SnapshotConfig contains snapshot manager configuration
type SnapshotConfig struct {
	Interval  time.Duration
	Retention int
}

// LifecycleConfig contains lifecycle driver configuration
type LifecycleConfig struct {
	EmergencyDir     string
	TerminateTimeout time.Duration
}

// HealthConfig contains health reporter configuration
type HealthConfig struct {
	PendingThreshold int
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnvString("DURASTORE_HOST", ""),
			Port: getEnvInt("DURASTORE_PORT", 8480),
		},
		Log: LogConfig{
			Level:  getEnvString("DURASTORE_LOG_LEVEL", "info"),
			Format: getEnvString("DURASTORE_LOG_FORMAT", "text"),
		},
		Storage: StorageConfig{
			Type:       getEnvString("DURASTORE_STORAGE_TYPE", "badger"),
			DataDir:    getEnvString("DURASTORE_DATA_DIR", "./data"),
			SyncWrites: getEnvBool("DURASTORE_SYNC_WRITES", true),
			Tables:     getEnvStringSlice("DURASTORE_TABLES", []string{"cameras", "orders", "confirmations"}),
		},
		Queue: QueueConfig{
			RetryCeiling:   getEnvInt("DURASTORE_RETRY_CEILING", 3),
			BaseDelay:      getEnvDuration("DURASTORE_RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:       getEnvDuration("DURASTORE_RETRY_MAX_DELAY", 30*time.Second),
			FlushInterval:  getEnvDuration("DURASTORE_FLUSH_INTERVAL", 2*time.Second),
			FlushBatchSize: getEnvInt("DURASTORE_FLUSH_BATCH_SIZE", 25),
		},
		Snapshot: SnapshotConfig{
			Interval:  getEnvDuration("DURASTORE_SNAPSHOT_INTERVAL", 5*time.Minute),
			Retention: getEnvInt("DURASTORE_SNAPSHOT_RETENTION", 10),
		},
		Lifecycle: LifecycleConfig{
			EmergencyDir:     getEnvString("DURASTORE_EMERGENCY_DIR", "./emergency"),
			TerminateTimeout: getEnvDuration("DURASTORE_TERMINATE_TIMEOUT", 500*time.Millisecond),
		},
		Health: HealthConfig{
			PendingThreshold: getEnvInt("DURASTORE_PENDING_THRESHOLD", 100),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("DURASTORE_TRACING_ENABLED", false),
			Endpoint:       getEnvString("DURASTORE_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("DURASTORE_TRACING_SERVICE_NAME", "durastore"),
			ServiceVersion: getEnvString("DURASTORE_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("DURASTORE_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("DURASTORE_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("DURASTORE_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	validStorageTypes := map[string]bool{
		"memory": true,
		"badger": true,
	}
	if !validStorageTypes[c.Storage.Type] {
		return fmt.Errorf("invalid storage type: %s (must be memory or badger)", c.Storage.Type)
	}

	if c.Storage.Type == "badger" && c.Storage.DataDir == "" {
		return fmt.Errorf("data directory must be specified for badger storage")
	}

	if len(c.Storage.Tables) == 0 {
		return fmt.Errorf("at least one managed table must be configured")
	}
	for _, table := range c.Storage.Tables {
		if strings.HasPrefix(table, "_") {
			return fmt.Errorf("invalid managed table %q: names starting with underscore are reserved", table)
		}
	}

	if c.Queue.RetryCeiling < 1 {
		return fmt.Errorf("retry ceiling must be at least 1, got %d", c.Queue.RetryCeiling)
	}
	if c.Queue.BaseDelay <= 0 {
		return fmt.Errorf("invalid retry base delay: %v (must be positive)", c.Queue.BaseDelay)
	}
	if c.Queue.MaxDelay < c.Queue.BaseDelay {
		return fmt.Errorf("retry max delay %v must not be below base delay %v", c.Queue.MaxDelay, c.Queue.BaseDelay)
	}
	if c.Queue.FlushInterval <= 0 {
		return fmt.Errorf("invalid flush interval: %v (must be positive)", c.Queue.FlushInterval)
	}
	if c.Queue.FlushBatchSize < 1 {
		return fmt.Errorf("flush batch size must be at least 1, got %d", c.Queue.FlushBatchSize)
	}

	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("invalid snapshot interval: %v (must be positive)", c.Snapshot.Interval)
	}
	if c.Snapshot.Retention < 1 {
		return fmt.Errorf("snapshot retention must be at least 1, got %d", c.Snapshot.Retention)
	}

	if c.Lifecycle.TerminateTimeout <= 0 || c.Lifecycle.TerminateTimeout > time.Second {
		return fmt.Errorf("invalid terminate timeout: %v (must be positive and at most 1s)", c.Lifecycle.TerminateTimeout)
	}

	if c.Health.PendingThreshold < 1 {
		return fmt.Errorf("pending threshold must be at least 1, got %d", c.Health.PendingThreshold)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint must be specified when tracing is enabled")
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return fmt.Errorf("invalid sampling ratio: %f (must be 0.0-1.0)", c.Tracing.SamplingRatio)
		}
	}

	return nil
}

// Address returns the full server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
