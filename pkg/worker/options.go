package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/extractq/pkg/security"
)

// Option configures a Pool or a Reconciler.
type Option interface {
	ApplyWorker(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyWorker(c *Config) { f(c) }

// Config holds worker configuration.
type Config struct {
	// Concurrency is the number of pool slots.
	Concurrency int
	// HeartbeatInterval is how often a slot refreshes its job's heartbeat.
	HeartbeatInterval time.Duration
	// SweepSchedule is a cron expression for the stale-heartbeat sweep.
	SweepSchedule string
	// StaleAfter is the heartbeat age at which a processing job is abandoned.
	StaleAfter time.Duration
	// SweepBatch bounds the jobs failed per sweep.
	SweepBatch int
	Logger     *slog.Logger
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		HeartbeatInterval: 15 * time.Second,
		SweepSchedule:     "@every 1m",
		StaleAfter:        2 * time.Minute,
		SweepBatch:        100,
		Logger:            slog.Default(),
	}
}

func newConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&cfg)
	}
	return cfg
}

// Concurrency sets the number of pool slots.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// HeartbeatInterval sets how often running jobs are heartbeated.
func HeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	})
}

// SweepSchedule sets the cron expression of the stale-heartbeat sweep,
// e.g. "@every 30s" or "*/5 * * * *".
func SweepSchedule(spec string) Option {
	return optionFunc(func(c *Config) {
		if spec != "" {
			c.SweepSchedule = spec
		}
	})
}

// StaleAfter sets the heartbeat age after which a job is considered lost.
func StaleAfter(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.StaleAfter = d
		}
	})
}

// SweepBatch bounds how many stale jobs one sweep handles.
func SweepBatch(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.SweepBatch = n
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}
