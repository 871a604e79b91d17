// Package config handles YAML configuration loading, environment variable
// expansion, defaults and structural validation for cadence.
package config

import (
	"time"

	"github.com/flemzord/cadence/internal/gateway"
	"github.com/flemzord/cadence/internal/security"
	"github.com/flemzord/cadence/modules/store/postgres"
	"github.com/flemzord/cadence/modules/store/sqlite"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// State store backends.
const (
	StateStoreDatabase = "database"
	StateStoreRedis    = "redis"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds the SQLite database and the audit log.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Storage   StorageConfig             `yaml:"storage"`
	OAuth     OAuthConfig               `yaml:"oauth"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Recurring RecurringConfig           `yaml:"recurring"`
	Analytics AnalyticsConfig           `yaml:"analytics"`
	Gateway   gateway.Config            `yaml:"gateway"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
}

// StorageConfig selects where states, credentials and jobs live.
type StorageConfig struct {
	Driver   string          `yaml:"driver"`
	SQLite   sqlite.Config   `yaml:"sqlite"`
	Postgres postgres.Config `yaml:"postgres"`
}

// OAuthConfig controls authorization flows and token refresh.
type OAuthConfig struct {
	StateTTL time.Duration `yaml:"state_ttl"`

	// StateStore is "database" (the storage driver) or "redis".
	StateStore string      `yaml:"state_store"`
	Redis      RedisConfig `yaml:"redis"`

	// SerializeRefresh collapses concurrent refreshes of one credential.
	SerializeRefresh bool `yaml:"serialize_refresh"`

	Redirect security.RedirectPolicy `yaml:"redirect"`
}

// RedisConfig locates the shared state registry.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PlatformConfig describes one OAuth platform.
type PlatformConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	PostURL      string   `yaml:"post_url"`
	Scopes       []string `yaml:"scopes"`

	// RefreshThreshold overrides the default 5 minute refresh window.
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SchedulerConfig tunes the job scheduler.
type SchedulerConfig struct {
	BaseDelay          time.Duration          `yaml:"base_delay"`
	DefaultMaxAttempts int                    `yaml:"default_max_attempts"`
	Payload            security.PayloadLimits `yaml:"payload"`

	// EmailPlatform names the platform whose connector sends one-shot
	// emails. Defaults to "email".
	EmailPlatform string `yaml:"email_platform"`
}

// RecurringConfig sets the recurring job schedules. Schedules use the
// five-field cron syntax.
type RecurringConfig struct {
	Timezone string `yaml:"timezone"`

	TokenRefreshSchedule string        `yaml:"token_refresh_schedule"`
	TokenRefreshHorizon  time.Duration `yaml:"token_refresh_horizon"`

	// AnalyticsHour is the wall-clock hour (0-23) of the daily sync.
	AnalyticsHour *int `yaml:"analytics_hour"`

	CleanupSchedule  string        `yaml:"cleanup_schedule"`
	CleanupRetention time.Duration `yaml:"cleanup_retention"`
}

// AnalyticsConfig points the daily sync at an aggregation service. With
// no WebhookURL the sync only logs what it would trigger.
type AnalyticsConfig struct {
	WebhookURL        string        `yaml:"webhook_url"`
	Secret            string        `yaml:"secret"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Headers      map[string]string `yaml:"headers"`
	ServiceName  string            `yaml:"service_name"`
	SampleRatio  float64           `yaml:"sample_ratio"`

	// Metrics exposes /metrics on the gateway. Defaults to true.
	Metrics *bool `yaml:"metrics"`
}

// MetricsEnabled reports whether /metrics should be served.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}
