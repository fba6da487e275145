package scheduler

import (
	"time"

	"github.com/smallbiznis/creditline/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	MaxRenewalBatches int
	JobTimeout        time.Duration
	LeaderLockTTL     time.Duration
	// RetentionMaxRows keeps the newest N ledger rows. Zero disables the trim.
	RetentionMaxRows int64
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		MaxRenewalBatches: 20,
		JobTimeout:        30 * time.Second,
		LeaderLockTTL:     2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      time.Duration(cfg.Scheduler.RunIntervalSeconds) * time.Second,
		BatchSize:        cfg.Scheduler.BatchSize,
		RetentionMaxRows: cfg.Scheduler.TransactionRetentionMaxRows,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
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
	if c.MaxRenewalBatches <= 0 {
		c.MaxRenewalBatches = defaults.MaxRenewalBatches
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaderLockTTL <= 0 {
		c.LeaderLockTTL = defaults.LeaderLockTTL
	}
	if c.RetentionMaxRows < 0 {
		c.RetentionMaxRows = 0
	}
	return c
}
