package scheduler

import (
	"time"

	"github.com/smallbiznis/kantoor/internal/config"
)

// Config controls the sync cadence.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: config.DefaultSyncInterval,
		JobTimeout:  10 * time.Minute,
		LockTTL:     10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Sync.SchedulerEnabled,
		RunInterval: cfg.Sync.Interval,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
		if c.RunInterval < c.JobTimeout {
			c.JobTimeout = c.RunInterval
		}
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout
	}
	return c
}
