package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.0, // No jitter for predictable testing
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts, err := Do(context.Background(), DefaultConfig(), nil, func(int) error {
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	var calls int
	attempts, err := Do(context.Background(), fastConfig(5), nil, func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	expectedErr := errors.New("persistent error")
	var calls int

	attempts, err := Do(context.Background(), fastConfig(3), nil, func(int) error {
		calls++
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	var calls int

	attempts, err := Do(context.Background(), fastConfig(5), func(error) Decision {
		return Decision{Retry: false}
	}, func(int) error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_DelayOverride(t *testing.T) {
	cfg := fastConfig(2)
	cfg.InitialBackoff = time.Hour

	start := time.Now()
	_, err := Do(context.Background(), cfg, func(error) Decision {
		return Decision{Retry: true, Delay: 5 * time.Millisecond}
	}, func(attempt int) error {
		if attempt == 1 {
			return errors.New("slow down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	cfg := fastConfig(10)
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, cfg, nil, func(int) error {
		return errors.New("keep failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), Config{}, nil, func(int) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("database is locked")))
}
