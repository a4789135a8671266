package core

import (
	"errors"
	"fmt"
	"time"
)

// Submission and lifecycle errors
var (
	ErrValidation        = errors.New("extractq: invalid job submission")
	ErrNotCancelable     = errors.New("extractq: job is not cancelable")
	ErrJobNotFound       = errors.New("extractq: job not found")
	ErrIllegalTransition = errors.New("extractq: illegal status transition")
	ErrSchedulerClosed   = errors.New("extractq: scheduler closed")
	ErrArtifactNotFound  = errors.New("extractq: artifact not found")
	ErrJobBusy           = errors.New("extractq: job is in progress")
)

// ValidationError describes one rejected submission field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("extractq: invalid %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransientStageError indicates a stage failure worth retrying, such as
// upstream rate limiting.
type TransientStageError struct {
	Err error
	// Delay overrides the computed backoff when positive.
	Delay time.Duration
}

func (e *TransientStageError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("transient (retry after %v): %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientStageError) Unwrap() error {
	return e.Err
}

// Transient wraps an error to mark it retryable.
func Transient(err error) error {
	return &TransientStageError{Err: err}
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &TransientStageError{Err: err, Delay: d}
}

// NoRetryError indicates an error that should not be retried even when the
// stage would otherwise classify it as transient.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// FatalStageError terminates the pipeline for one job.
type FatalStageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *FatalStageError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("stage %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *FatalStageError) Unwrap() error {
	return e.Err
}
