package pipeline

import (
	"log/slog"
	"time"

	"github.com/jdziat/extractq/pkg/internal/retry"
	"github.com/jdziat/extractq/pkg/security"
)

// RetryConfig holds configuration for retry with backoff.
type RetryConfig = retry.Config

// DefaultStageRetry returns the policy for transient stage failures.
func DefaultStageRetry() RetryConfig {
	return retry.StageConfig()
}

// DefaultStorageRetry returns the policy for job store writes.
func DefaultStorageRetry() RetryConfig {
	return retry.DefaultConfig()
}

// DefaultStageTimeout bounds one stage attempt.
var DefaultStageTimeout = 5 * time.Minute

// Config holds orchestrator configuration.
type Config struct {
	StageTimeout time.Duration
	StageRetry   RetryConfig
	StorageRetry RetryConfig
	Logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// StageTimeout sets the per-attempt stage timeout.
func StageTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.StageTimeout = d
		}
	})
}

// StageRetry sets the transient-failure policy. MaxAttempts is clamped to
// [1, security.MaxRetries].
func StageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		cfg.MaxAttempts = security.ClampRetries(cfg.MaxAttempts)
		c.StageRetry = cfg
	})
}

// StorageRetry sets the policy for job store writes.
func StorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		cfg.MaxAttempts = security.ClampRetries(cfg.MaxAttempts)
		c.StorageRetry = cfg
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
