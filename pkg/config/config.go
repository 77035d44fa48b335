package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/token"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Auth configuration
	Auth AuthConfig

	// Storage configuration
	Storage StorageConfig

	// Janitor configuration
	Janitor JanitorConfig

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

// AuthConfig holds the token-issuance surface
type AuthConfig struct {
	// SigningSecret signs every token. Shorter than
	// token.MinSecretLength is rejected at startup.
	SigningSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// MaxActiveTokens is the advisory per-user ceiling on live refresh
	// tokens. Exceeding it logs a warning, it never blocks rotation.
	MaxActiveTokens int

	BcryptCost int
}

// StorageConfig holds the persistence endpoints
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// RedisURL, when set, moves the access-token blacklist out of process
	// so revocation survives restarts and is shared across replicas.
	RedisURL string
}

// JanitorConfig holds the background-cleanup schedule
type JanitorConfig struct {
	// SweepSchedule is a cron expression.
	SweepSchedule string

	// UsedRetention is how long used refresh records are kept for the
	// audit trail before the sweep deletes them.
	UsedRetention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Auth:          loadAuthConfig(),
		Storage:       loadStorageConfig(),
		Janitor:       loadJanitorConfig(),
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
		Host:            getEnv("DRIVELINE_HOST", "0.0.0.0"),
		Port:            getEnv("DRIVELINE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DRIVELINE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DRIVELINE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DRIVELINE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DRIVELINE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DRIVELINE_HEALTH_PORT", "9090"),
	}
}

// loadAuthConfig loads token-issuance configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SigningSecret:   getEnv("DRIVELINE_SIGNING_SECRET", ""),
		AccessTokenTTL:  getEnvDuration("DRIVELINE_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("DRIVELINE_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		MaxActiveTokens: getEnvInt("DRIVELINE_MAX_ACTIVE_TOKENS", 10),
		BcryptCost:      getEnvInt("DRIVELINE_BCRYPT_COST", 0),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("DRIVELINE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("DRIVELINE_POSTGRES_MAX_CONNS", 20),
		PostgresTimeout:  getEnvDuration("DRIVELINE_POSTGRES_TIMEOUT", 5*time.Second),
		RedisURL:         getEnv("DRIVELINE_REDIS_URL", ""),
	}
}

// loadJanitorConfig loads cleanup configuration from environment
func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		SweepSchedule: getEnv("DRIVELINE_SWEEP_SCHEDULE", "@every 10m"),
		UsedRetention: getEnvDuration("DRIVELINE_USED_RETENTION", 24*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("DRIVELINE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("DRIVELINE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate auth config
	if len(c.Auth.SigningSecret) < token.MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes", token.MinSecretLength)
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL must exceed access token TTL")
	}
	if c.Auth.MaxActiveTokens < 1 {
		return fmt.Errorf("max active tokens must be at least 1")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate janitor config
	if c.Janitor.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}
	if c.Janitor.UsedRetention < 0 {
		return fmt.Errorf("used-record retention cannot be negative")
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
