package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/internal/retry"
	"github.com/jdziat/extractq/pkg/scheduler"
)

// Source hands out the next job a slot may run.
type Source interface {
	NextEligible(ctx context.Context) (*scheduler.Handle, error)
}

// Runner executes one dequeued job and releases its user when done.
type Runner interface {
	Run(ctx context.Context, h *scheduler.Handle) error
}

// Heartbeater records that a processing job is still alive.
type Heartbeater interface {
	Heartbeat(ctx context.Context, id string) error
}

// Pool runs jobs on a fixed number of slots.
type Pool struct {
	source     Source
	runner     Runner
	heartbeats Heartbeater
	config     Config
	logger     *slog.Logger

	active    atomic.Int64
	processed atomic.Int64
}

// NewPool creates a Pool. heartbeats may be nil to disable heartbeating.
func NewPool(source Source, runner Runner, heartbeats Heartbeater, opts ...Option) *Pool {
	cfg := newConfig(opts)
	return &Pool{
		source:     source,
		runner:     runner,
		heartbeats: heartbeats,
		config:     cfg,
		logger:     cfg.Logger,
	}
}

// Concurrency returns the number of slots.
func (p *Pool) Concurrency() int {
	return p.config.Concurrency
}

// Active returns the number of slots currently running a job.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Processed returns the number of jobs the pool has finished running.
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// Start runs the slots. Blocks until ctx is cancelled or the source is
// closed, and until every in-flight job has returned.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("worker pool starting", "concurrency", p.config.Concurrency)

	var wg conc.WaitGroup
	for slot := 0; slot < p.config.Concurrency; slot++ {
		slot := slot
		wg.Go(func() {
			p.slotLoop(ctx, slot)
		})
	}
	wg.Wait()

	p.logger.Info("worker pool stopped", "processed", p.processed.Load())
	return ctx.Err()
}

func (p *Pool) slotLoop(ctx context.Context, slot int) {
	for {
		h, err := p.source.NextEligible(ctx)
		if err != nil {
			if !errors.Is(err, core.ErrSchedulerClosed) && ctx.Err() == nil {
				p.logger.Error("slot stopped", "slot", slot, "error", err)
			}
			return
		}
		p.process(ctx, slot, h)
	}
}

func (p *Pool) process(ctx context.Context, slot int, h *scheduler.Handle) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer p.processed.Add(1)

	logger := p.logger.With("slot", slot, "job_id", h.JobID, "user_id", h.UserID)

	var hb conc.WaitGroup
	hbCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer hb.Wait()
	defer cancelHeartbeat()

	if p.heartbeats != nil {
		hb.Go(func() {
			p.runHeartbeat(hbCtx, logger, h.JobID)
		})
	}

	start := time.Now()
	err := p.runSafely(ctx, h)
	if err != nil {
		logger.Debug("job finished with error", "error", err, "duration", time.Since(start))
		return
	}
	logger.Debug("job finished", "duration", time.Since(start))
}

// runSafely keeps the slot alive when Run itself panics. Stage panics are
// already handled inside Run.
func (p *Pool) runSafely(ctx context.Context, h *scheduler.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered panic in job runner", "job_id", h.JobID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.runner.Run(ctx, h)
}

// runHeartbeat periodically refreshes the job's heartbeat so the
// reconciler does not treat it as abandoned.
func (p *Pool) runHeartbeat(ctx context.Context, logger *slog.Logger, jobID string) {
	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := retry.Do(ctx, retry.DefaultConfig(), heartbeatClassifier, func(int) error {
				return p.heartbeats.Heartbeat(ctx, jobID)
			})
			switch {
			case err == nil:
				logger.Debug("heartbeat sent")
			case errors.Is(err, core.ErrIllegalTransition), errors.Is(err, core.ErrJobNotFound):
				// The job left processing; nothing more to refresh.
				return
			case ctx.Err() == nil:
				logger.Warn("heartbeat failed after retries", "error", err)
			}
		}
	}
}

func heartbeatClassifier(err error) retry.Decision {
	if errors.Is(err, core.ErrIllegalTransition) || errors.Is(err, core.ErrJobNotFound) {
		return retry.Decision{}
	}
	return retry.Always(err)
}
