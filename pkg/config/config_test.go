package config

import (
	"os"
	"testing"
	"time"

	"github.com/girderhq/girder/pkg/observability"
	"github.com/girderhq/girder/pkg/rbac"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")

	if got := getEnvInt("TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_INT_NOT_SET", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default 7", got)
	}

	os.Setenv("TEST_INT_BAD", "forty-two")
	defer os.Unsetenv("TEST_INT_BAD")
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default on parse failure", got)
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "90s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_DURATION_NOT_SET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() = %v, want default", got)
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"INFO", observability.InfoLevel},
		{"unknown", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLoadConfig_Defaults verifies defaults with only the required vars set
func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GIRDER_POSTGRES_URL", "postgres://localhost/girder_test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Expected default health port 9090, got %s", cfg.Server.HealthPort)
	}
	if cfg.Authz.SnapshotTTL != rbac.DefaultSnapshotTTL {
		t.Errorf("Expected default snapshot TTL %s, got %s", rbac.DefaultSnapshotTTL, cfg.Authz.SnapshotTTL)
	}
	if cfg.Authz.SweepSchedule != rbac.DefaultSweepSchedule {
		t.Errorf("Expected default sweep schedule %q, got %q", rbac.DefaultSweepSchedule, cfg.Authz.SweepSchedule)
	}
	if !cfg.Observability.MetricsEnabled {
		t.Error("Expected metrics enabled by default")
	}
	if cfg.Observability.OTelEnabled {
		t.Error("Expected OTel disabled by default")
	}
}

// TestLoadConfig_Overrides verifies env overrides are honored
func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("GIRDER_POSTGRES_URL", "postgres://db:5432/girder")
	t.Setenv("GIRDER_PORT", "8888")
	t.Setenv("GIRDER_CACHE_TTL", "2m")
	t.Setenv("GIRDER_L1_CACHE_SIZE", "256")
	t.Setenv("GIRDER_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "8888" {
		t.Errorf("Expected port 8888, got %s", cfg.Server.Port)
	}
	if cfg.Authz.SnapshotTTL != 2*time.Minute {
		t.Errorf("Expected TTL 2m, got %s", cfg.Authz.SnapshotTTL)
	}
	if cfg.Authz.L1CacheSize != 256 {
		t.Errorf("Expected L1 size 256, got %d", cfg.Authz.L1CacheSize)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug level, got %v", cfg.Observability.LogLevel)
	}
}

// TestLoadConfig_MissingPostgres verifies the required Postgres URL
func TestLoadConfig_MissingPostgres(t *testing.T) {
	t.Setenv("GIRDER_POSTGRES_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error without GIRDER_POSTGRES_URL")
	}
}

// TestValidate covers the remaining validation rules
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{
				PostgresURL: "postgres://localhost/girder",
			},
			Authz: AuthzConfig{
				SnapshotTTL:   rbac.DefaultSnapshotTTL,
				SweepSchedule: rbac.DefaultSweepSchedule,
			},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	cfg := valid()
	cfg.Server.HealthPort = cfg.Server.Port
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for colliding ports")
	}

	cfg = valid()
	cfg.Authz.SnapshotTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero snapshot TTL")
	}

	cfg = valid()
	cfg.Authz.SweepSchedule = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty sweep schedule")
	}

	cfg = valid()
	cfg.Observability.OTelEnabled = true
	cfg.Observability.OTelEndpoint = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for OTel without endpoint")
	}
}
