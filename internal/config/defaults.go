package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values applied by ApplyDefaults.
const (
	DefaultLogLevel             = "info"
	DefaultTokenRefreshSchedule = "0 */6 * * *"
	DefaultTokenRefreshHorizon  = 24 * time.Hour
	DefaultAnalyticsHour        = 2
	DefaultCleanupSchedule      = "0 3 * * 0"
	DefaultCleanupRetention     = 30 * 24 * time.Hour
	DefaultEmailPlatform        = "email"
	DefaultServiceName          = "cadence"
)

// ApplyDefaults fills every unset field. It never overrides explicit values.
func ApplyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	cfg.Storage.SQLite.Defaults(cfg.DataDir)
	cfg.Storage.Postgres.Defaults()

	if cfg.OAuth.StateStore == "" {
		cfg.OAuth.StateStore = StateStoreDatabase
	}
	if cfg.OAuth.Redis.Prefix == "" {
		cfg.OAuth.Redis.Prefix = "cadence:oauth_state:"
	}

	if cfg.Scheduler.EmailPlatform == "" {
		cfg.Scheduler.EmailPlatform = DefaultEmailPlatform
	}

	r := &cfg.Recurring
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.TokenRefreshSchedule == "" {
		r.TokenRefreshSchedule = DefaultTokenRefreshSchedule
	}
	if r.TokenRefreshHorizon == 0 {
		r.TokenRefreshHorizon = DefaultTokenRefreshHorizon
	}
	if r.AnalyticsHour == nil {
		h := DefaultAnalyticsHour
		r.AnalyticsHour = &h
	}
	if r.CleanupSchedule == "" {
		r.CleanupSchedule = DefaultCleanupSchedule
	}
	if r.CleanupRetention == 0 {
		r.CleanupRetention = DefaultCleanupRetention
	}

	cfg.Gateway.Defaults()

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// defaultDataDir follows the XDG base directory layout.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "cadence")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "cadence")
	}
	return "data"
}
