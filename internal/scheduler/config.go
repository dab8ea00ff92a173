package scheduler

import (
	"time"

	"github.com/smallbiznis/poolbilling/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	StaleRunningAfter time.Duration
	LockTTL           time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       30 * time.Second,
		BatchSize:         20,
		JobTimeout:        time.Hour,
		StaleRunningAfter: 2 * time.Hour,
		LockTTL:           2 * time.Hour,
	}
}

// ProvideConfig reads the scheduler section of the billing configuration.
func ProvideConfig(holder *config.BillingConfigHolder) Config {
	cfg := holder.Get().Scheduler
	return Config{
		RunInterval:       cfg.RunInterval,
		BatchSize:         cfg.BatchSize,
		JobTimeout:        cfg.JobTimeout,
		StaleRunningAfter: cfg.StaleRunningAfter,
		LockTTL:           cfg.LockTTL,
		EnabledJobs:       cfg.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.StaleRunningAfter <= 0 {
		c.StaleRunningAfter = defaults.StaleRunningAfter
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
