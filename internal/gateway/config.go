package gateway

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Enabled         *bool         `yaml:"enabled"`
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	AuditLog        string        `yaml:"audit_log"`
	AuthRateLimit   float64       `yaml:"auth_rate_limit"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults fills zero values with sensible defaults.
func (c *Config) Defaults() {
	if c.Enabled == nil {
		on := true
		c.Enabled = &on
	}
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.AuthRateLimit == 0 {
		c.AuthRateLimit = 5
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// IsEnabled reports whether the gateway should be started. Unset means on.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks the bind address and the auth settings.
func (c Config) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	var errs []error
	if _, _, err := net.SplitHostPort(c.Bind); err != nil {
		errs = append(errs, fmt.Errorf("gateway: invalid bind address %q", c.Bind))
	}
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPass == "") {
		errs = append(errs, errors.New("gateway: basic_user and basic_pass must be set together"))
	}
	if c.AuthRateLimit < 0 {
		errs = append(errs, errors.New("gateway: auth_rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// AuthConfig configures authentication for the /api endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
