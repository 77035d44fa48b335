// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for everything except the signing secret and database URL.
//
// # Configuration Structure
//
// Server settings:
//
//	DRIVELINE_HOST="0.0.0.0"
//	DRIVELINE_PORT="8080"
//	DRIVELINE_HEALTH_PORT="9090"
//	DRIVELINE_READ_TIMEOUT="15s"
//	DRIVELINE_WRITE_TIMEOUT="15s"
//
// Auth settings:
//
//	DRIVELINE_SIGNING_SECRET=""          # required, at least 32 bytes
//	DRIVELINE_ACCESS_TOKEN_TTL="15m"
//	DRIVELINE_REFRESH_TOKEN_TTL="168h"
//	DRIVELINE_MAX_ACTIVE_TOKENS="10"     # advisory per-user ceiling
//
// Storage settings:
//
//	DRIVELINE_POSTGRES_URL="postgres://localhost/driveline"  # required
//	DRIVELINE_REDIS_URL=""               # optional shared blacklist
//
// Janitor settings:
//
//	DRIVELINE_SWEEP_SCHEDULE="@every 10m"
//	DRIVELINE_USED_RETENTION="24h"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
