package sqlite

import (
	"fmt"
	"path/filepath"
)

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "cadence.db"
)

// Config holds the SQLite storage configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/cadence.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`
}

// Defaults fills unset fields. dataDir anchors a missing Path.
func (c *Config) Defaults(dataDir string) {
	if c.Path == "" {
		c.Path = filepath.Join(dataDir, defaultDBFile)
	}
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

// Validate checks the configuration without side effects.
func (c *Config) Validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	return nil
}
