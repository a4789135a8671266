package core

import (
	"context"
	"sync"
)

// Stage is one step of the extraction pipeline. Implementations are external
// collaborators; the orchestrator only sees the result or the error.
type Stage interface {
	// Name is used in logs, timing keys and error messages.
	Name() string
	Execute(ctx context.Context, sc *StageContext) (StageResult, error)
	// IsTransient classifies an error returned by Execute as retryable.
	IsTransient(err error) bool
}

// StageResult is what a stage hands back to the orchestrator.
type StageResult struct {
	// Message is published in the step_update for this stage.
	Message string
	// Output is made available to later stages under the stage name.
	Output any
	// Artifact is the reference of the final output, set by the storage stage.
	Artifact string
}

// StageContext carries the job and the outputs of earlier stages.
type StageContext struct {
	Job *Job

	mu      sync.RWMutex
	outputs map[string]any
}

// NewStageContext creates a context for one pipeline run.
func NewStageContext(job *Job) *StageContext {
	return &StageContext{Job: job, outputs: make(map[string]any)}
}

// Output returns what the named stage produced.
func (sc *StageContext) Output(stage string) (any, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	v, ok := sc.outputs[stage]
	return v, ok
}

// SetOutput records the output of a stage.
func (sc *StageContext) SetOutput(stage string, v any) {
	sc.mu.Lock()
	sc.outputs[stage] = v
	sc.mu.Unlock()
}

// OutputAs returns the named stage output converted to T.
func OutputAs[T any](sc *StageContext, stage string) (T, bool) {
	var zero T
	v, ok := sc.Output(stage)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
