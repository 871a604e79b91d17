package postgres

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config holds the PostgreSQL storage configuration.
type Config struct {
	// DSN is a lib/pq connection string or URL.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Defaults fills unset pool settings.
func (c *Config) Defaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

// Validate checks the configuration without side effects.
func (c *Config) Validate() error {
	var errs []error
	if c.DSN == "" {
		errs = append(errs, errors.New("postgres: dsn is required"))
	}
	if c.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("postgres: max_open_conns must be non-negative, got %d", c.MaxOpenConns))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("postgres: max_idle_conns must be non-negative, got %d", c.MaxIdleConns))
	}
	return errors.Join(errs...)
}
