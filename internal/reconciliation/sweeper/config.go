package sweeper

import (
	"time"

	"github.com/smallbiznis/tradecredit/internal/config"
)

// Config controls the reconciliation sweep cadence.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
	LockTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Interval:  15 * time.Minute,
		BatchSize: 100,
		Timeout:   2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:   cfg.Reconcile.Enabled,
		Interval:  cfg.Reconcile.Interval,
		BatchSize: cfg.Reconcile.BatchSize,
		Timeout:   cfg.Reconcile.Timeout,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Timeout + 30*time.Second
	}
	return c
}
