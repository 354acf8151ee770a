package scheduler

import (
	"time"

	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
)

// Config controls the reconcile interval, per-run timeout and batch size.
type Config struct {
	Enabled          bool
	ReconcileEvery   time.Duration
	ReconcileTimeout time.Duration
	BatchSize        int
	LockTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ReconcileEvery:   6 * time.Hour,
		ReconcileTimeout: 10 * time.Minute,
		BatchSize:        200,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Scheduler.Enabled,
		ReconcileEvery:   cfg.Scheduler.ReconcileEvery,
		ReconcileTimeout: cfg.Scheduler.ReconcileTimeout,
		BatchSize:        cfg.Scheduler.BatchSize,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = defaults.ReconcileEvery
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	// The lock outlives a run so a slow replica cannot overlap the next one.
	if c.LockTTL <= 0 {
		c.LockTTL = c.ReconcileTimeout + time.Minute
	}
	return c
}
