package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/hub"
	"github.com/jdziat/extractq/pkg/pipeline"
	"github.com/jdziat/extractq/pkg/scheduler"
	"github.com/jdziat/extractq/pkg/security"
	"github.com/jdziat/extractq/pkg/worker"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("extractq: queue already started")

// Store is the persistence a Queue needs.
type Store interface {
	core.JobStore
	core.JobEditor
	core.ArtifactStore
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending         int `json:"pending"`
	QueuedUsers     int `json:"queued_users"`
	ProcessingUsers int `json:"processing_users"`
	ActiveWorkers   int `json:"active_workers"`
	Concurrency     int `json:"concurrency"`
}

// Queue accepts submissions, runs them and reports progress.
type Queue struct {
	store        Store
	scheduler    *scheduler.Scheduler
	hub          *hub.Hub
	orchestrator *pipeline.Orchestrator
	pool         *worker.Pool
	reconciler   *worker.Reconciler
	logger       *slog.Logger

	// admit is held shared by Submit between persisting and queueing a job,
	// and exclusively by startup recovery, so recovery never sees a job
	// that Submit is about to queue.
	admit   sync.RWMutex
	started atomic.Bool
}

// New creates a Queue that runs stages, in order, for every job.
func New(store Store, stages []core.Stage, opts ...Option) *Queue {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}

	sched := scheduler.New()
	h := hub.New(append([]hub.Option{hub.WithLogger(o.Logger)}, o.Hub...)...)
	orch := pipeline.New(store, h, sched, stages,
		append([]pipeline.Option{pipeline.WithLogger(o.Logger)}, o.Pipeline...)...)
	workerOpts := append([]worker.Option{worker.WithLogger(o.Logger)}, o.Worker...)

	return &Queue{
		store:        store,
		scheduler:    sched,
		hub:          h,
		orchestrator: orch,
		pool:         worker.NewPool(sched, orch, store, workerOpts...),
		reconciler:   worker.NewReconciler(store, sched, h, workerOpts...),
		logger:       o.Logger,
	}
}

// Submit validates and persists a job, then queues it. It returns the job id.
// Validation failures wrap core.ErrValidation and persist nothing.
func (q *Queue) Submit(ctx context.Context, spec core.JobSpec) (string, error) {
	if err := security.NormalizeSpec(&spec); err != nil {
		return "", err
	}

	job := &core.Job{
		ID:             uuid.New().String(),
		UserID:         spec.UserID,
		Priority:       spec.Priority,
		Status:         core.StatusPending,
		Complexity:     spec.Complexity,
		InputFilename:  spec.Filename,
		InputType:      spec.InputType,
		Input:          spec.Input,
		MultipleTables: spec.MultipleTables,
		OutputFormat:   spec.OutputFormat,
		CreatedAt:      time.Now(),
	}
	if len(spec.Columns) > 0 {
		cols, err := json.Marshal(spec.Columns)
		if err != nil {
			return "", fmt.Errorf("extractq: encode columns: %w", err)
		}
		job.Columns = cols
	}

	q.admit.RLock()
	if err := q.store.Create(ctx, job); err != nil {
		q.admit.RUnlock()
		return "", fmt.Errorf("extractq: persist job: %w", err)
	}
	q.scheduler.Enqueue(job)
	q.admit.RUnlock()

	q.logger.Info("job submitted",
		"job_id", job.ID,
		"user_id", job.UserID,
		"priority", job.Priority,
		"complexity", job.Complexity,
		"input_type", job.InputType,
	)
	return job.ID, nil
}

// Cancel removes a pending job. It returns core.ErrJobNotFound for unknown
// ids and core.ErrNotCancelable once the job has started.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("extractq: load job: %w", err)
	}
	if job == nil {
		return core.ErrJobNotFound
	}

	if err := q.scheduler.Cancel(jobID); err != nil {
		return err
	}

	if err := q.store.Delete(ctx, jobID); err != nil {
		// Keep the scheduler in line with the record that is still there.
		if job.Status == core.StatusPending && !errors.Is(err, core.ErrJobNotFound) {
			q.scheduler.Enqueue(job)
		}
		return fmt.Errorf("extractq: delete job: %w", err)
	}

	q.hub.CloseJob(jobID)
	q.logger.Info("job cancelled", "job_id", jobID, "user_id", job.UserID)
	return nil
}

// Delete removes a job. A pending job is cancelled; a completed or failed
// job is removed together with its artifacts. A processing job returns
// core.ErrJobBusy.
func (q *Queue) Delete(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case core.StatusPending:
		return q.Cancel(ctx, jobID)
	case core.StatusProcessing:
		return core.ErrJobBusy
	}

	if err := q.store.DeleteFinished(ctx, jobID); err != nil {
		if errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrJobBusy) {
			return err
		}
		return fmt.Errorf("extractq: delete job: %w", err)
	}

	q.hub.CloseJob(jobID)
	q.logger.Info("job deleted", "job_id", jobID, "user_id", job.UserID, "status", job.Status)
	return nil
}

// Update edits a job's metadata and returns the stored job. The filename
// can change at any time; the output format only while the job is not
// processing.
func (q *Queue) Update(ctx context.Context, jobID string, u core.JobUpdate) (*core.Job, error) {
	if err := security.NormalizeUpdate(&u); err != nil {
		return nil, err
	}
	if err := q.store.UpdateMetadata(ctx, jobID, u); err != nil {
		if errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrJobBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("extractq: update job: %w", err)
	}
	return q.Get(ctx, jobID)
}

// Subscribe returns a subscription to a job's progress events.
func (q *Queue) Subscribe(jobID string) *hub.Subscription {
	return q.hub.Subscribe(jobID)
}

// Unsubscribe detaches a subscription. It is safe to call more than once.
func (q *Queue) Unsubscribe(sub *hub.Subscription) {
	q.hub.Unsubscribe(sub)
}

// Get returns a job, or core.ErrJobNotFound.
func (q *Queue) Get(ctx context.Context, jobID string) (*core.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}
	return job, nil
}

// List returns jobs matching filter in submission order.
func (q *Queue) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	return q.store.List(ctx, filter)
}

// Position returns a pending job's 0-based place in its owner's queue.
func (q *Queue) Position(jobID string) (int, bool) {
	return q.scheduler.Position(jobID)
}

// Artifact returns a stored job output.
func (q *Queue) Artifact(ctx context.Context, ref string) (*core.Artifact, error) {
	return q.store.GetArtifact(ctx, ref)
}

// Stats returns scheduler and pool counters.
func (q *Queue) Stats() Stats {
	s := q.scheduler.Stats()
	return Stats{
		Pending:         s.Pending,
		QueuedUsers:     s.QueuedUsers,
		ProcessingUsers: s.ProcessingUsers,
		ActiveWorkers:   q.pool.Active(),
		Concurrency:     q.pool.Concurrency(),
	}
}

// Stages returns the names of the pipeline stages in order.
func (q *Queue) Stages() []string {
	return q.orchestrator.Stages()
}

// Start recovers state left by a previous process, then runs the worker
// pool, the hub keepalive and the stale-job sweep until ctx is cancelled.
// It returns nil after a clean shutdown.
func (q *Queue) Start(ctx context.Context) error {
	if !q.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer q.scheduler.Close()

	q.admit.Lock()
	_, err := q.reconciler.Recover(ctx)
	q.admit.Unlock()
	if err != nil {
		return fmt.Errorf("extractq: recover: %w", err)
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, s := range []core.Starter{q.pool, q.hub, q.reconciler} {
		p.Go(untilCancelled(s.Start))
	}

	err = p.Wait()
	q.logger.Info("queue stopped")
	return err
}

// untilCancelled treats cancellation as a normal return.
func untilCancelled(run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := run(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}
