// Package retry provides exponential backoff with jitter for extractq.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config holds configuration for retry with backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial one).
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier applied to backoff after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0.1 (10% jitter)
	JitterFraction float64
}

// DefaultConfig returns the default configuration, used for job store writes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// StageConfig returns the default policy for transient stage failures,
// matching upstream rate-limit behavior (2s doubling up to a minute).
func StageConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// Decision tells Do how to treat a failed attempt.
type Decision struct {
	Retry bool
	// Delay replaces the computed backoff when positive.
	Delay time.Duration
}

// Classifier decides whether an error is retried.
type Classifier func(err error) Decision

// Always retries every error except context cancellation.
func Always(err error) Decision {
	return Decision{Retry: IsRetryableError(err)}
}

// Do executes the operation with exponential backoff on failure. The
// operation receives the 1-based attempt number. It respects context
// cancellation and returns the last error and the number of attempts made.
func Do(ctx context.Context, config Config, classify Classifier, operation func(attempt int) error) (int, error) {
	var lastErr error
	backoff := config.InitialBackoff
	if classify == nil {
		classify = Always
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	attempt := 1
	for ; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation(attempt)
		if lastErr == nil {
			return attempt, nil
		}

		decision := classify(lastErr)
		if !decision.Retry || attempt >= config.MaxAttempts {
			break
		}

		sleepDuration := decision.Delay
		if sleepDuration <= 0 {
			sleepDuration = jittered(backoff, config.JitterFraction)
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(sleepDuration):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return attempt, lastErr
}

func jittered(backoff time.Duration, fraction float64) time.Duration {
	jitter := time.Duration(float64(backoff) * fraction * (rand.Float64()*2 - 1))
	d := backoff + jitter
	if d < 0 {
		return backoff
	}
	return d
}

// IsRetryableError determines if an error is worth retrying.
// Returns false for errors that indicate permanent failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Connection, lock and deadlock errors from the store are potentially
	// transient; default to retrying unless known permanent.
	return true
}
