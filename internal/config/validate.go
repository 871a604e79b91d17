package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the structural validity of a Config after defaults have
// been applied. Every problem is reported, joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}
	if !slices.Contains(logLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("config: log_level %q must be one of %v", cfg.LogLevel, logLevels))
	}

	errs = append(errs, validateStorage(cfg.Storage)...)
	errs = append(errs, validateOAuth(cfg.OAuth)...)
	errs = append(errs, validatePlatforms(cfg.Platforms)...)
	errs = append(errs, validateScheduler(cfg.Scheduler)...)
	errs = append(errs, validateRecurring(cfg.Recurring)...)

	if cfg.Analytics.WebhookURL != "" {
		if u, err := url.Parse(cfg.Analytics.WebhookURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: analytics.webhook_url %q is not an absolute URL", cfg.Analytics.WebhookURL))
		}
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio must be within [0, 1], got %v", r))
	}
	if err := cfg.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: gateway: %w", err))
	}

	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) []error {
	switch s.Driver {
	case DriverSQLite:
		if err := s.SQLite.Validate(); err != nil {
			return []error{fmt.Errorf("config: storage.sqlite: %w", err)}
		}
	case DriverPostgres:
		if err := s.Postgres.Validate(); err != nil {
			return []error{fmt.Errorf("config: storage.postgres: %w", err)}
		}
	case DriverMemory:
	default:
		return []error{fmt.Errorf("config: storage.driver %q must be sqlite, postgres or memory", s.Driver)}
	}
	return nil
}

func validateOAuth(o OAuthConfig) []error {
	var errs []error
	if o.StateTTL < 0 {
		errs = append(errs, errors.New("config: oauth.state_ttl must be non-negative"))
	}
	switch o.StateStore {
	case StateStoreDatabase:
	case StateStoreRedis:
		if o.Redis.Addr == "" {
			errs = append(errs, errors.New("config: oauth.redis.addr is required when state_store is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: oauth.state_store %q must be database or redis", o.StateStore))
	}
	return errs
}

func validatePlatforms(platforms map[string]PlatformConfig) []error {
	var errs []error
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := platforms[name]
		if p.ClientID == "" {
			errs = append(errs, fmt.Errorf("config: platforms.%s: client_id is required", name))
		}
		if p.TokenURL == "" {
			errs = append(errs, fmt.Errorf("config: platforms.%s: token_url is required", name))
		}
		if p.RefreshThreshold < 0 {
			errs = append(errs, fmt.Errorf("config: platforms.%s: refresh_threshold must be non-negative", name))
		}
		if p.RequestsPerSecond < 0 || p.Burst < 0 {
			errs = append(errs, fmt.Errorf("config: platforms.%s: rate limits must be non-negative", name))
		}
	}
	return errs
}

func validateScheduler(s SchedulerConfig) []error {
	var errs []error
	if s.BaseDelay < 0 {
		errs = append(errs, errors.New("config: scheduler.base_delay must be non-negative"))
	}
	if s.DefaultMaxAttempts < 0 {
		errs = append(errs, errors.New("config: scheduler.default_max_attempts must be non-negative"))
	}
	return errs
}

func validateRecurring(r RecurringConfig) []error {
	var errs []error
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("config: recurring.timezone: %w", err))
	}
	for field, expr := range map[string]string{
		"token_refresh_schedule": r.TokenRefreshSchedule,
		"cleanup_schedule":       r.CleanupSchedule,
	} {
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Errorf("config: recurring.%s %q: %w", field, expr, err))
		}
	}
	if r.AnalyticsHour != nil && (*r.AnalyticsHour < 0 || *r.AnalyticsHour > 23) {
		errs = append(errs, fmt.Errorf("config: recurring.analytics_hour must be within 0-23, got %d", *r.AnalyticsHour))
	}
	if r.TokenRefreshHorizon <= 0 {
		errs = append(errs, errors.New("config: recurring.token_refresh_horizon must be positive"))
	}
	if r.CleanupRetention <= 0 {
		errs = append(errs, errors.New("config: recurring.cleanup_retention must be positive"))
	}
	return errs
}
