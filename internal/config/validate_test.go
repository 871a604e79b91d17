package config

import (
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Parse([]byte(`
version: "1"
data_dir: /tmp/cadence
platforms:
  linkedin:
    client_id: id
    client_secret: secret
    token_url: https://www.linkedin.com/oauth/v2/accessToken
`), noEnv)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing version", func(c *Config) { c.Version = "" }, "version field is required"},
		{"unsupported version", func(c *Config) { c.Version = "2" }, `unsupported version "2"`},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "dsn is required"},
		{"sqlite busy timeout", func(c *Config) { c.Storage.SQLite.BusyTimeout = -1 }, "busy_timeout"},
		{"state store", func(c *Config) { c.OAuth.StateStore = "etcd" }, "oauth.state_store"},
		{"redis addr", func(c *Config) { c.OAuth.StateStore = StateStoreRedis }, "oauth.redis.addr"},
		{"platform client id", func(c *Config) {
			p := c.Platforms["linkedin"]
			p.ClientID = ""
			c.Platforms["linkedin"] = p
		}, "platforms.linkedin: client_id"},
		{"platform token url", func(c *Config) {
			c.Platforms["x"] = PlatformConfig{ClientID: "id"}
		}, "platforms.x: token_url"},
		{"attempts", func(c *Config) { c.Scheduler.DefaultMaxAttempts = -1 }, "default_max_attempts"},
		{"timezone", func(c *Config) { c.Recurring.Timezone = "Mars/Olympus" }, "recurring.timezone"},
		{"cron", func(c *Config) { c.Recurring.CleanupSchedule = "every sunday" }, "cleanup_schedule"},
		{"analytics hour", func(c *Config) { h := 24; c.Recurring.AnalyticsHour = &h }, "analytics_hour"},
		{"webhook url", func(c *Config) { c.Analytics.WebhookURL = "not a url" }, "analytics.webhook_url"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Version = ""
	cfg.LogLevel = "loud"
	cfg.Storage.Driver = "nope"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"version", "log_level", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error misses %q: %v", want, err)
		}
	}
}
