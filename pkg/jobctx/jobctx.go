// Package jobctx gives stage code access to the job and stage it runs for.
package jobctx

import (
	"context"
	"log/slog"

	"github.com/jdziat/extractq/pkg/core"
)

type stageKey struct{}

// Stage describes the stage attempt a context belongs to.
type Stage struct {
	Job *core.Job
	// Step is the 1-based position of the stage in the pipeline.
	Step    int
	Name    string
	Attempt int
}

// WithStage returns a context carrying s.
func WithStage(ctx context.Context, s Stage) context.Context {
	return context.WithValue(ctx, stageKey{}, s)
}

// StageFromContext returns the current stage, or false outside a pipeline run.
func StageFromContext(ctx context.Context) (Stage, bool) {
	s, ok := ctx.Value(stageKey{}).(Stage)
	return s, ok
}

// JobFromContext returns the current Job from context, or nil if not in a stage.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *core.Job {
	s, ok := StageFromContext(ctx)
	if !ok {
		return nil
	}
	return s.Job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a stage.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// Logger returns slog.Default() with the job and stage of ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	s, ok := StageFromContext(ctx)
	if !ok {
		return logger
	}
	if s.Job != nil {
		logger = logger.With("job_id", s.Job.ID, "user_id", s.Job.UserID)
	}
	return logger.With("stage", s.Name, "step", s.Step, "attempt", s.Attempt)
}
