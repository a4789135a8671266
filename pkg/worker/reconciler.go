package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/extractq/pkg/core"
)

// Messages recorded on jobs the reconciler fails.
const (
	RestartedMessage     = "Extraction failed: interrupted: worker restarted"
	HeartbeatLostMessage = "Extraction failed: interrupted: heartbeat lost"
)

// Enqueuer accepts recovered pending jobs. Requeue must ignore jobs that
// are already queued or running and report whether it added the job.
type Enqueuer interface {
	Requeue(job *core.Job) bool
}

// Publisher receives events for jobs the reconciler fails.
type Publisher interface {
	Publish(e core.Event)
}

// RecoverReport summarizes a startup recovery.
type RecoverReport struct {
	Failed   int
	Requeued int
}

// Reconciler brings the job store and the in-memory scheduler back in line
// after a restart, and fails processing jobs whose heartbeat stopped.
type Reconciler struct {
	store    core.JobStore
	enqueuer Enqueuer
	events   Publisher
	config   Config
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(store core.JobStore, enqueuer Enqueuer, events Publisher, opts ...Option) *Reconciler {
	cfg := newConfig(opts)
	return &Reconciler{
		store:    store,
		enqueuer: enqueuer,
		events:   events,
		config:   cfg,
		logger:   cfg.Logger,
	}
}

// Recover runs once at startup, before the pool. Jobs left processing by a
// previous process are failed; pending jobs are queued again in submission
// order.
func (r *Reconciler) Recover(ctx context.Context) (RecoverReport, error) {
	var report RecoverReport

	orphans, err := r.store.List(ctx, core.JobFilter{Status: core.StatusProcessing})
	if err != nil {
		return report, fmt.Errorf("list processing jobs: %w", err)
	}
	for _, job := range orphans {
		failed, err := r.fail(ctx, job, RestartedMessage)
		if err != nil {
			return report, err
		}
		if failed {
			report.Failed++
		}
	}

	pending, err := r.store.List(ctx, core.JobFilter{Status: core.StatusPending})
	if err != nil {
		return report, fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		if r.enqueuer.Requeue(job) {
			report.Requeued++
		}
	}

	r.logger.Info("recovered job state", "failed", report.Failed, "requeued", report.Requeued)
	return report, nil
}

// Sweep fails processing jobs whose heartbeat is older than StaleAfter.
// It returns the number of jobs failed.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	before := time.Now().Add(-r.config.StaleAfter)
	stale, err := r.store.ListStale(ctx, before, r.config.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	n := 0
	for _, job := range stale {
		failed, err := r.fail(ctx, job, HeartbeatLostMessage)
		if err != nil {
			return n, err
		}
		if failed {
			n++
		}
	}
	if n > 0 {
		r.logger.Warn("failed jobs with stale heartbeat", "count", n, "stale_after", r.config.StaleAfter)
	}
	return n, nil
}

// Start runs Sweep on the configured cron schedule until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.config.SweepSchedule, func() {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("stale job sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", r.config.SweepSchedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (r *Reconciler) fail(ctx context.Context, job *core.Job, msg string) (bool, error) {
	err := r.store.UpdateStatus(ctx, job.ID, core.StatusFailed, core.StatusFields{Error: msg})
	if errors.Is(err, core.ErrIllegalTransition) || errors.Is(err, core.ErrJobNotFound) {
		// Finished or removed since it was listed.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	r.logger.Warn("job marked failed", "job_id", job.ID, "user_id", job.UserID, "reason", msg)
	if r.events != nil {
		r.events.Publish(core.Notification(job.ID, "Extraction Failed", msg, core.SeverityError))
		r.events.Publish(core.StatusUpdate(job.ID, core.StatusFailed, msg))
	}
	return true, nil
}
