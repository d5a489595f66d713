package usage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/flemzord/parley/internal/cron"
)

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "usage.db"
)

// Config holds the usage ledger configuration.
type Config struct {
	// Enabled turns the ledger on. When false no database is opened.
	Enabled bool `yaml:"enabled"`

	// Path is the database file path. Defaults to usage.db in the data directory.
	Path string `yaml:"path"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// Retention is how long records are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// PurgeSchedule is when expired records are removed. Defaults to "@daily".
	PurgeSchedule string `yaml:"purge_schedule"`
}

// Defaults fills zero-value fields. dataDir is used for the default path.
func (c *Config) Defaults(dataDir string) {
	if c.Path == "" {
		c.Path = defaultDBFile
		if dataDir != "" {
			c.Path = filepath.Join(dataDir, defaultDBFile)
		}
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.PurgeSchedule == "" {
		c.PurgeSchedule = "@daily"
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("usage: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.Retention < 0 {
		return fmt.Errorf("usage: retention must not be negative")
	}
	if c.PurgeSchedule != "" {
		if err := cron.ValidateSchedule(c.PurgeSchedule); err != nil {
			return fmt.Errorf("usage: purge_schedule: %w", err)
		}
	}
	return nil
}
