package stages

import (
	"context"

	"github.com/jdziat/extractq/pkg/core"
)

// RunFunc is the body of a stage.
type RunFunc func(ctx context.Context, sc *core.StageContext) (core.StageResult, error)

// Func adapts a function into a core.Stage.
type Func struct {
	name      string
	run       RunFunc
	transient func(error) bool
}

// NewFunc creates a stage named name that runs fn. Errors are fatal unless
// a transient predicate is added with WithTransient or fn returns a
// core.Transient error.
func NewFunc(name string, fn RunFunc) Func {
	return Func{name: name, run: fn}
}

// WithTransient returns a copy of f that classifies errors with pred.
func (f Func) WithTransient(pred func(error) bool) Func {
	f.transient = pred
	return f
}

// Name returns the stage name.
func (f Func) Name() string { return f.name }

// Execute runs the stage body.
func (f Func) Execute(ctx context.Context, sc *core.StageContext) (core.StageResult, error) {
	return f.run(ctx, sc)
}

// IsTransient reports whether err should be retried.
func (f Func) IsTransient(err error) bool {
	return f.transient != nil && f.transient(err)
}

var _ core.Stage = Func{}
