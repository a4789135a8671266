package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/extractq/pkg/core"
)

// Default values.
var (
	DefaultBufferSize        = 32
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultFinishedTTL       = 10 * time.Minute
)

// Subscription is one live listener bound to a job id.
type Subscription struct {
	JobID string

	id      uint64
	ch      chan core.Event
	once    sync.Once
	dropped atomic.Int64
}

// C returns the delivery channel. It is closed only by Hub.CloseJob.
func (s *Subscription) C() <-chan core.Event {
	return s.ch
}

// Dropped returns how many events were discarded because the channel was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is a registry of subscriptions keyed by job id.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[uint64]*Subscription
	finished map[string]time.Time
	nextID   atomic.Uint64

	bufferSize  int
	keepalive   time.Duration
	finishedTTL time.Duration
	logger      *slog.Logger
}

// Option configures a Hub.
type Option interface {
	apply(*Hub)
}

type optionFunc func(*Hub)

func (f optionFunc) apply(h *Hub) { f(h) }

// BufferSize sets the capacity of each subscription channel.
func BufferSize(n int) Option {
	return optionFunc(func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	})
}

// KeepaliveInterval sets how often Run sends keepalive events.
func KeepaliveInterval(d time.Duration) Option {
	return optionFunc(func(h *Hub) {
		if d > 0 {
			h.keepalive = d
		}
	})
}

// FinishedTTL sets how long a finished job keeps suppressing late events.
func FinishedTTL(d time.Duration) Option {
	return optionFunc(func(h *Hub) {
		if d > 0 {
			h.finishedTTL = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	})
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:        make(map[string]map[uint64]*Subscription),
		finished:    make(map[string]time.Time),
		bufferSize:  DefaultBufferSize,
		keepalive:   DefaultKeepaliveInterval,
		finishedTTL: DefaultFinishedTTL,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(h)
	}
	return h
}

// Subscribe registers a listener for a job.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (h *Hub) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		JobID: jobID,
		id:    h.nextID.Add(1),
		ch:    make(chan core.Event, h.bufferSize),
	}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[uint64]*Subscription)
		h.subs[jobID] = set
	}
	set[sub.id] = sub
	n := len(set)
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "job_id", jobID, "subscribers", n)
	return sub
}

// Unsubscribe removes a subscription. Calling it more than once is safe.
// The channel is not closed; callers must stop reading before calling it.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.JobID]
	if !ok {
		return
	}
	if _, ok := set[sub.id]; !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(h.subs, sub.JobID)
	}
	h.logger.Debug("subscriber removed", "job_id", sub.JobID, "subscribers", len(set))
}

// Publish delivers an event to every current subscriber of its job. Events
// other than keepalives are dropped once the job has published its terminal
// status_update.
func (h *Hub) Publish(e core.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Type != core.EventKeepalive {
		if _, done := h.finished[e.JobID]; done {
			h.logger.Warn("event after terminal status dropped", "job_id", e.JobID, "type", e.Type)
			return
		}
		if e.IsTerminal() {
			h.finished[e.JobID] = e.Timestamp
		}
	}
	// Sends never block, so delivering under the lock keeps per-job order
	// and keeps CloseJob from closing a channel mid-send.
	for _, sub := range h.subs[e.JobID] {
		if e.IsTerminal() {
			deliverTerminal(sub, e)
			continue
		}
		deliver(sub, e)
	}
}

// CloseJob closes and removes every subscription of a job. It is used when a
// job disappears without a terminal event, such as a cancelled pending job.
func (h *Hub) CloseJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[jobID] {
		sub.close()
	}
	delete(h.subs, jobID)
}

// Subscribers returns the number of live subscriptions for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// Finished reports whether a terminal status_update was published for a job.
func (h *Hub) Finished(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.finished[jobID]
	return ok
}

// Start sends keepalive events on every subscription and prunes finished
// marks until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			h.sendKeepalives()
			h.prune(now)
		}
	}
}

func (h *Hub) sendKeepalives() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for jobID, set := range h.subs {
		ka := core.Keepalive(jobID)
		for _, sub := range set {
			deliver(sub, ka)
		}
	}
}

func (h *Hub) prune(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, at := range h.finished {
		if now.Sub(at) > h.finishedTTL {
			delete(h.finished, id)
		}
	}
}

// deliver drops e when the subscriber's buffer is full.
func deliver(sub *Subscription, e core.Event) {
	select {
	case sub.ch <- e:
	default:
		sub.dropped.Add(1)
	}
}

// deliverTerminal makes room for e by discarding the oldest buffered events.
// Publish holds the write lock, so no other sender competes for the slot.
func deliverTerminal(sub *Subscription, e core.Event) {
	for {
		select {
		case sub.ch <- e:
			return
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
	}
}
