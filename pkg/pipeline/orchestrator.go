package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/internal/retry"
	"github.com/jdziat/extractq/pkg/jobctx"
	"github.com/jdziat/extractq/pkg/scheduler"
	"github.com/jdziat/extractq/pkg/security"
)

// TotalTimeKey is the timing metric holding the whole pipeline duration.
const TotalTimeKey = "total_time"

// Publisher receives progress events.
type Publisher interface {
	Publish(e core.Event)
}

// Releaser frees a user's processing slot. Return gives back a handle whose
// job never started, keeping its place in the owner's queue.
type Releaser interface {
	Release(userID string)
	Return(h *scheduler.Handle)
}

// Orchestrator runs the stage sequence for a job and reports progress.
type Orchestrator struct {
	store    core.JobStore
	events   Publisher
	releaser Releaser
	stages   []core.Stage
	config   Config
	logger   *slog.Logger
}

// New creates an Orchestrator. Stages run in the given order and are
// numbered from 1 in step updates.
func New(store core.JobStore, events Publisher, releaser Releaser, stages []core.Stage, opts ...Option) *Orchestrator {
	cfg := Config{
		StageTimeout: DefaultStageTimeout,
		StageRetry:   DefaultStageRetry(),
		StorageRetry: DefaultStorageRetry(),
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt.Apply(&cfg)
	}

	return &Orchestrator{
		store:    store,
		events:   events,
		releaser: releaser,
		stages:   stages,
		config:   cfg,
		logger:   cfg.Logger,
	}
}

// Stages returns the configured stage names in order.
func (o *Orchestrator) Stages() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline for a dequeued job. The user's scheduler slot is
// released when Run returns, whatever the outcome. A job that cannot be
// loaded or marked processing because the store keeps failing is returned
// to the scheduler still pending. The returned error is the reason the job
// failed, or a persistence error.
func (o *Orchestrator) Run(ctx context.Context, h *scheduler.Handle) error {
	returned := false
	if o.releaser != nil {
		defer func() {
			if !returned {
				o.releaser.Release(h.UserID)
			}
		}()
	}
	giveBack := func() {
		if o.releaser != nil {
			o.releaser.Return(h)
			returned = true
		}
	}

	logger := o.logger.With("job_id", h.JobID, "user_id", h.UserID)
	// Status writes must land even when ctx is cancelled by shutdown.
	persistCtx := context.WithoutCancel(ctx)

	var job *core.Job
	_, err := retry.Do(persistCtx, o.config.StorageRetry, storeClassifier, func(int) error {
		var getErr error
		job, getErr = o.store.Get(persistCtx, h.JobID)
		return getErr
	})
	if err != nil {
		logger.Error("failed to load job, returning it to the queue", "error", err)
		giveBack()
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		logger.Warn("dequeued job no longer exists")
		return core.ErrJobNotFound
	}

	start := time.Now()
	if err := o.persist(persistCtx, job.ID, core.StatusProcessing, core.StatusFields{At: start}); err != nil {
		if errors.Is(err, core.ErrIllegalTransition) || errors.Is(err, core.ErrJobNotFound) {
			logger.Warn("dequeued job is no longer pending", "error", err)
			return fmt.Errorf("mark processing: %w", err)
		}
		logger.Error("failed to mark job processing, returning it to the queue", "error", err)
		giveBack()
		return fmt.Errorf("mark processing: %w", err)
	}
	job.Status = core.StatusProcessing
	job.StartedAt = &start

	logger.Info("job started", "priority", job.Priority)
	o.events.Publish(core.StatusUpdate(job.ID, core.StatusProcessing, "Processing started"))
	o.events.Publish(core.Notification(job.ID, "Extraction Started",
		fmt.Sprintf("Extraction of %s has started", job.InputFilename), core.SeverityInfo))

	sc := core.NewStageContext(job)
	timings := core.TimingMetrics{}
	var artifact string

	for i, stage := range o.stages {
		step := i + 1
		stageStart := time.Now()
		res, err := o.runStage(ctx, logger, step, stage, sc)
		elapsed := time.Since(stageStart)
		timings[TimingKey(step, stage.Name())] = seconds(elapsed)

		if err != nil {
			timings[TotalTimeKey] = seconds(time.Since(start))
			return o.fail(persistCtx, logger, job, err, timings)
		}

		sc.SetOutput(stage.Name(), res.Output)
		if res.Artifact != "" {
			artifact = res.Artifact
		}
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("%s completed", stage.Name())
		}
		logger.Debug("stage completed", "stage", stage.Name(), "step", step, "elapsed", elapsed)
		o.events.Publish(core.StepUpdate(job.ID, step, msg, elapsed))
	}

	timings[TotalTimeKey] = seconds(time.Since(start))
	fields := core.StatusFields{ArtifactRef: artifact, Timings: timings, At: time.Now()}
	if err := o.persist(persistCtx, job.ID, core.StatusCompleted, fields); err != nil {
		logger.Error("failed to persist completion", "error", err)
		return fmt.Errorf("mark completed: %w", err)
	}

	logger.Info("job completed", "total_time", timings[TotalTimeKey])
	o.events.Publish(core.Notification(job.ID, "Extraction Completed",
		fmt.Sprintf("Extraction of %s finished successfully", job.InputFilename), core.SeveritySuccess))
	done := core.StatusUpdate(job.ID, core.StatusCompleted, "Extraction completed")
	done.TimingMetrics = timings
	o.events.Publish(done)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, job *core.Job, cause error, timings core.TimingMetrics) error {
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "interrupted by shutdown"
	}
	msg := security.SanitizeErrorMessage("Extraction failed: " + reason)

	fields := core.StatusFields{Error: msg, Timings: timings, At: time.Now()}
	if err := o.persist(ctx, job.ID, core.StatusFailed, fields); err != nil {
		logger.Error("failed to persist failure", "error", err, "cause", cause)
		return fmt.Errorf("mark failed: %w", err)
	}

	logger.Warn("job failed", "error", cause)
	o.events.Publish(core.Notification(job.ID, "Extraction Failed", msg, core.SeverityError))
	o.events.Publish(core.StatusUpdate(job.ID, core.StatusFailed, msg))
	return cause
}

// runStage executes one stage with retry on transient failures. Any error
// it returns is a *core.FatalStageError.
func (o *Orchestrator) runStage(ctx context.Context, logger *slog.Logger, step int, stage core.Stage, sc *core.StageContext) (core.StageResult, error) {
	var result core.StageResult
	attempts, err := retry.Do(ctx, o.config.StageRetry, o.classifier(ctx, stage), func(attempt int) error {
		if attempt > 1 {
			logger.Info("retrying stage", "stage", stage.Name(), "attempt", attempt)
		}
		attemptCtx := jobctx.WithStage(ctx, jobctx.Stage{Job: sc.Job, Step: step, Name: stage.Name(), Attempt: attempt})
		r, err := o.invoke(attemptCtx, stage, sc)
		if err != nil {
			logger.Warn("stage attempt failed", "stage", stage.Name(), "attempt", attempt, "error", err)
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return core.StageResult{}, &core.FatalStageError{Stage: stage.Name(), Attempts: attempts, Err: err}
	}
	return result, nil
}

// invoke runs a single attempt under the stage timeout and converts panics
// into errors.
func (o *Orchestrator) invoke(ctx context.Context, stage core.Stage, sc *core.StageContext) (res core.StageResult, err error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("stage panicked", "stage", stage.Name(), "panic", r, "stack", string(debug.Stack()))
			err = &panicError{value: r}
		}
	}()

	res, err = stage.Execute(stageCtx, sc)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = &timeoutError{stage: stage.Name(), timeout: o.config.StageTimeout}
	}
	return res, err
}

func (o *Orchestrator) classifier(ctx context.Context, stage core.Stage) retry.Classifier {
	return func(err error) retry.Decision {
		if ctx.Err() != nil {
			return retry.Decision{}
		}

		var noRetry *core.NoRetryError
		var pe *panicError
		if errors.As(err, &noRetry) || errors.As(err, &pe) {
			return retry.Decision{}
		}

		var transient *core.TransientStageError
		if errors.As(err, &transient) {
			return retry.Decision{Retry: true, Delay: transient.Delay}
		}

		var te *timeoutError
		if errors.As(err, &te) {
			return retry.Decision{Retry: true}
		}

		return retry.Decision{Retry: stage.IsTransient(err)}
	}
}

func (o *Orchestrator) persist(ctx context.Context, id string, status core.JobStatus, fields core.StatusFields) error {
	_, err := retry.Do(ctx, o.config.StorageRetry, storeClassifier, func(int) error {
		return o.store.UpdateStatus(ctx, id, status, fields)
	})
	return err
}

func storeClassifier(err error) retry.Decision {
	if errors.Is(err, core.ErrIllegalTransition) || errors.Is(err, core.ErrJobNotFound) {
		return retry.Decision{}
	}
	return retry.Always(err)
}

// TimingKey returns the timing metric name for a stage, e.g.
// "step_2_extraction".
func TimingKey(step int, name string) string {
	name = strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(name))
	return fmt.Sprintf("step_%d_%s", step, name)
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

type timeoutError struct {
	stage   string
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.stage, e.timeout)
}
