package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/girderhq/girder/pkg/observability"
	"github.com/girderhq/girder/pkg/rbac"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database and cache configuration
	Database DatabaseConfig

	// Authorization core tunables
	Authz AuthzConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds Postgres and Redis settings
type DatabaseConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// AuthzConfig holds resolver, cache, and sweeper tunables
type AuthzConfig struct {
	// SnapshotTTL bounds how stale a cached permission snapshot can get if
	// an invalidation is lost.
	SnapshotTTL time.Duration

	// L1CacheSize is the per-process snapshot cache capacity; zero disables
	// the L1 layer.
	L1CacheSize int
	L1CacheTTL  time.Duration

	// SweepSchedule is the cron expression for the expired-assignment
	// sweeper.
	SweepSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Authz:         loadAuthzConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GIRDER_HOST", "0.0.0.0"),
		Port:            getEnv("GIRDER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GIRDER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GIRDER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GIRDER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GIRDER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GIRDER_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads Postgres and Redis configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:      getEnv("GIRDER_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("GIRDER_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("GIRDER_POSTGRES_MIN_CONNS", 5),
		RedisURL:         getEnv("GIRDER_REDIS_URL", ""),
		RedisPassword:    getEnv("GIRDER_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("GIRDER_REDIS_DB", 0),
		RedisPoolSize:    getEnvInt("GIRDER_REDIS_POOL_SIZE", 10),
	}
}

// loadAuthzConfig loads resolver and sweeper tunables from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		SnapshotTTL:   getEnvDuration("GIRDER_CACHE_TTL", rbac.DefaultSnapshotTTL),
		L1CacheSize:   getEnvInt("GIRDER_L1_CACHE_SIZE", 1024),
		L1CacheTTL:    getEnvDuration("GIRDER_L1_CACHE_TTL", 5*time.Second),
		SweepSchedule: getEnv("GIRDER_SWEEP_SCHEDULE", rbac.DefaultSweepSchedule),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GIRDER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GIRDER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GIRDER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GIRDER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GIRDER_OTEL_SERVICE_NAME", "girder"),
		OTelServiceVersion: getEnv("GIRDER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GIRDER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Authz.SnapshotTTL <= 0 {
		return fmt.Errorf("snapshot TTL must be positive")
	}
	if c.Authz.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
