package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jdziat/extractq/pkg/core"
)

// Handle is the in-memory reference to a queued or running job.
type Handle struct {
	JobID       string
	UserID      string
	Priority    core.Priority
	SubmittedAt time.Time

	seq uint64
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Pending         int
	QueuedUsers     int
	ProcessingUsers int
}

// Scheduler decides which job a free worker takes next.
type Scheduler struct {
	mu         sync.Mutex
	queues     map[string][]*Handle // user id -> pending handles, head first
	queued     map[string]*Handle   // job id -> handle
	processing map[string]string    // user id -> job id
	wake       chan struct{}
	closed     bool
	seq        uint64
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		queues:     make(map[string][]*Handle),
		queued:     make(map[string]*Handle),
		processing: make(map[string]string),
		wake:       make(chan struct{}),
	}
}

// Enqueue adds a pending job to its owner's queue, after every queued job of
// the same or a higher tier. The caller must already have persisted the job.
// Enqueueing a job that is not pending, or one already queued or running,
// panics.
func (s *Scheduler) Enqueue(job *core.Job) {
	if job.Status != core.StatusPending {
		panic(fmt.Sprintf("scheduler: enqueue of job %s with status %q", job.ID, job.Status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.queued[job.ID]; dup {
		panic(fmt.Sprintf("scheduler: job %s enqueued twice", job.ID))
	}
	if s.processing[job.UserID] == job.ID {
		panic(fmt.Sprintf("scheduler: job %s enqueued while processing", job.ID))
	}

	s.enqueueLocked(job)
}

// Requeue queues a pending job unless it is already queued or running. It
// reports whether the job was added. Recovery uses it so that a job queued
// by a concurrent submit is never queued twice.
func (s *Scheduler) Requeue(job *core.Job) bool {
	if job.Status != core.StatusPending {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.queued[job.ID]; dup {
		return false
	}
	if s.processing[job.UserID] == job.ID {
		return false
	}
	s.enqueueLocked(job)
	return true
}

// Return puts a dequeued handle back at its original place and frees its
// user, in one step. It is for jobs that never started. A handle whose user
// is no longer processing it is ignored.
func (s *Scheduler) Return(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing[h.UserID] != h.JobID {
		return
	}
	delete(s.processing, h.UserID)
	if _, dup := s.queued[h.JobID]; !dup {
		s.insertLocked(h)
	}
	s.notifyLocked()
}

func (s *Scheduler) enqueueLocked(job *core.Job) {
	submitted := job.CreatedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	s.seq++
	s.insertLocked(&Handle{
		JobID:       job.ID,
		UserID:      job.UserID,
		Priority:    job.Priority,
		SubmittedAt: submitted,
		seq:         s.seq,
	})
	s.notifyLocked()
}

// insertLocked places h after every handle of its user that is in a higher
// tier, or in the same tier and older.
func (s *Scheduler) insertLocked(h *Handle) {
	q := s.queues[h.UserID]
	i := len(q)
	for i > 0 && (q[i-1].Priority.Rank() < h.Priority.Rank() ||
		(q[i-1].Priority.Rank() == h.Priority.Rank() && q[i-1].seq > h.seq)) {
		i--
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = h

	s.queues[h.UserID] = q
	s.queued[h.JobID] = h
}

// NextEligible blocks until a job is eligible and returns it. The owning
// user is marked processing and the job leaves its queue before return.
// It returns ctx.Err() when ctx is done and core.ErrSchedulerClosed after
// Close.
func (s *Scheduler) NextEligible(ctx context.Context) (*Handle, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, core.ErrSchedulerClosed
		}
		if h := s.popLocked(); h != nil {
			s.mu.Unlock()
			return h, nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Cancel removes a pending job. It returns core.ErrNotCancelable when the
// job is processing, finished or unknown.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.queued[jobID]
	if !ok {
		return core.ErrNotCancelable
	}
	s.removeLocked(h)
	return nil
}

// Release returns a user to the eligible set after their job reached a
// terminal state.
func (s *Scheduler) Release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processing[userID]; !ok {
		return
	}
	delete(s.processing, userID)
	s.notifyLocked()
}

// Close wakes every waiter with core.ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.notifyLocked()
}

// Contains reports whether a job is waiting in a queue.
func (s *Scheduler) Contains(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queued[jobID]
	return ok
}

// Processing returns the job currently running for a user.
func (s *Scheduler) Processing(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.processing[userID]
	return id, ok
}

// Position returns the 0-based place of a job in its owner's queue.
func (s *Scheduler) Position(jobID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.queued[jobID]
	if !ok {
		return 0, false
	}
	for i, q := range s.queues[h.UserID] {
		if q == h {
			return i, true
		}
	}
	return 0, false
}

// Stats returns current queue depth.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:         len(s.queued),
		QueuedUsers:     len(s.queues),
		ProcessingUsers: len(s.processing),
	}
}

// popLocked picks the best head among idle users.
func (s *Scheduler) popLocked() *Handle {
	var best *Handle
	for userID, q := range s.queues {
		if _, busy := s.processing[userID]; busy {
			continue
		}
		if head := q[0]; best == nil || before(head, best) {
			best = head
		}
	}
	if best == nil {
		return nil
	}

	s.removeLocked(best)
	s.processing[best.UserID] = best.JobID
	return best
}

func (s *Scheduler) removeLocked(h *Handle) {
	q := s.queues[h.UserID]
	for i, cur := range q {
		if cur == h {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(s.queues, h.UserID)
	} else {
		s.queues[h.UserID] = q
	}
	delete(s.queued, h.JobID)
}

func (s *Scheduler) notifyLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// before orders heads: higher tier first, then the longest-waiting head.
func before(a, b *Handle) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.seq < b.seq
}
