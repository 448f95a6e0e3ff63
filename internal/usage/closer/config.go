package closer

import (
	"time"

	"github.com/smallbiznis/quota/internal/config"
)

// Config controls the billing period closer loop.
type Config struct {
	Enabled      bool
	BatchSize    int
	PollInterval time.Duration
	Grace        time.Duration
	LockTTL      time.Duration
	RunTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		BatchSize:    200,
		PollInterval: time.Hour,
		Grace:        72 * time.Hour,
		LockTTL:      5 * time.Minute,
		RunTimeout:   2 * time.Minute,
	}
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Enabled:      cfg.Usage.CloseEnabled,
		PollInterval: cfg.Usage.CloseInterval,
		Grace:        cfg.Usage.CloseGrace,
		LockTTL:      cfg.Usage.CloseLockTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.Grace < 0 {
		c.Grace = defaults.Grace
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	// A lock shorter than a run would let a second instance start mid-batch.
	if c.LockTTL < c.RunTimeout {
		c.LockTTL = c.RunTimeout
	}
	return c
}
