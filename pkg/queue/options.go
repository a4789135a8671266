package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/extractq/pkg/hub"
	"github.com/jdziat/extractq/pkg/pipeline"
	"github.com/jdziat/extractq/pkg/worker"
)

// Options holds configuration for a Queue and its components.
type Options struct {
	Pipeline []pipeline.Option
	Worker   []worker.Option
	Hub      []hub.Option
	Logger   *slog.Logger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{Logger: slog.Default()}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	})
}

// Concurrency sets the number of worker slots.
func Concurrency(n int) Option {
	return WithWorkerOptions(worker.Concurrency(n))
}

// StageTimeout bounds a single stage attempt.
func StageTimeout(d time.Duration) Option {
	return WithPipelineOptions(pipeline.StageTimeout(d))
}

// StageRetry sets the retry policy for transient stage failures.
func StageRetry(cfg pipeline.RetryConfig) Option {
	return WithPipelineOptions(pipeline.StageRetry(cfg))
}

// SubscriberBuffer sets the per-subscriber event buffer.
func SubscriberBuffer(n int) Option {
	return WithHubOptions(hub.BufferSize(n))
}

// KeepaliveInterval sets how often subscribers receive keepalive events.
func KeepaliveInterval(d time.Duration) Option {
	return WithHubOptions(hub.KeepaliveInterval(d))
}

// WithPipelineOptions forwards options to the orchestrator.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return optionFunc(func(o *Options) {
		o.Pipeline = append(o.Pipeline, opts...)
	})
}

// WithWorkerOptions forwards options to the pool and the reconciler.
func WithWorkerOptions(opts ...worker.Option) Option {
	return optionFunc(func(o *Options) {
		o.Worker = append(o.Worker, opts...)
	})
}

// WithHubOptions forwards options to the event hub.
func WithHubOptions(opts ...hub.Option) Option {
	return optionFunc(func(o *Options) {
		o.Hub = append(o.Hub, opts...)
	})
}
