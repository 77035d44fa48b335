package config

import (
	"strings"
	"testing"
	"time"

	"github.com/drivelinehq/driveline/pkg/observability"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       "8080",
			HealthPort: "9090",
		},
		Auth: AuthConfig{
			SigningSecret:   validSecret,
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			MaxActiveTokens: 10,
		},
		Storage: StorageConfig{
			PostgresURL: "postgres://localhost/driveline",
		},
		Janitor: JanitorConfig{
			SweepSchedule: "@every 10m",
			UsedRetention: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			MetricsEnabled: true,
		},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DRIVELINE_SIGNING_SECRET", validSecret)
	t.Setenv("DRIVELINE_POSTGRES_URL", "postgres://localhost/driveline")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 168h", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.MaxActiveTokens != 10 {
		t.Errorf("MaxActiveTokens = %d, want 10", cfg.Auth.MaxActiveTokens)
	}
	if cfg.Janitor.SweepSchedule != "@every 10m" {
		t.Errorf("SweepSchedule = %q, want @every 10m", cfg.Janitor.SweepSchedule)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DRIVELINE_SIGNING_SECRET", validSecret)
	t.Setenv("DRIVELINE_POSTGRES_URL", "postgres://db:5432/driveline")
	t.Setenv("DRIVELINE_PORT", "3000")
	t.Setenv("DRIVELINE_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("DRIVELINE_REFRESH_TOKEN_TTL", "48h")
	t.Setenv("DRIVELINE_MAX_ACTIVE_TOKENS", "3")
	t.Setenv("DRIVELINE_LOG_LEVEL", "debug")
	t.Setenv("DRIVELINE_REDIS_URL", "redis://cache:6379/0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Port = %q, want 3000", cfg.Server.Port)
	}
	if cfg.Auth.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 5m", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.MaxActiveTokens != 3 {
		t.Errorf("MaxActiveTokens = %d, want 3", cfg.Auth.MaxActiveTokens)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
	if cfg.Storage.RedisURL != "redis://cache:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Storage.RedisURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "short signing secret",
			mutate:  func(c *Config) { c.Auth.SigningSecret = "tooshort" },
			wantErr: "signing secret",
		},
		{
			name:    "missing postgres URL",
			mutate:  func(c *Config) { c.Storage.PostgresURL = "" },
			wantErr: "postgres URL",
		},
		{
			name:    "refresh TTL below access TTL",
			mutate:  func(c *Config) { c.Auth.RefreshTokenTTL = time.Minute },
			wantErr: "refresh token TTL",
		},
		{
			name:    "zero access TTL",
			mutate:  func(c *Config) { c.Auth.AccessTokenTTL = 0 },
			wantErr: "access token TTL",
		},
		{
			name:    "max active below one",
			mutate:  func(c *Config) { c.Auth.MaxActiveTokens = 0 },
			wantErr: "max active tokens",
		},
		{
			name:    "same server and health port",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "empty sweep schedule",
			mutate:  func(c *Config) { c.Janitor.SweepSchedule = "" },
			wantErr: "sweep schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	if got := parseLogLevel("warning"); got != observability.WarnLevel {
		t.Errorf("parseLogLevel(warning) = %v", got)
	}
	if got := parseLogLevel("nonsense"); got != observability.InfoLevel {
		t.Errorf("parseLogLevel(nonsense) = %v, want info", got)
	}
}
