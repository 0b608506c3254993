// Package saga runs a sequence of steps and undoes completed ones in reverse
// order when a later step fails.
package saga

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Step is a single unit of work. Compensate may be nil for steps with nothing
// to undo.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Orchestrator executes steps sequentially.
type Orchestrator struct {
	name  string
	steps []Step
}

// New creates an Orchestrator. The name only labels log entries.
func New(name string, steps ...Step) *Orchestrator {
	return &Orchestrator{name: name, steps: steps}
}

// Add appends a step.
func (o *Orchestrator) Add(s Step) *Orchestrator {
	o.steps = append(o.steps, s)
	return o
}

// StepError identifies the step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Run executes every step. When a step fails, completed steps are compensated
// last-in first-out and the step's error is returned wrapped in *StepError.
// Compensation runs detached from ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	lg := zctx.From(ctx).With(zap.String("saga", o.name))

	done := make([]Step, 0, len(o.steps))
	for _, step := range o.steps {
		if err := step.Execute(ctx); err != nil {
			lg.Debug("Step failed, compensating",
				zap.String("step", step.Name),
				zap.Int("completed", len(done)),
				zap.Error(err),
			)
			o.rollback(context.WithoutCancel(ctx), lg, done)
			return &StepError{Step: step.Name, Err: err}
		}
		done = append(done, step)
	}
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, lg *zap.Logger, done []Step) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			lg.Error("Compensation failed",
				zap.String("step", step.Name),
				zap.Error(errors.Wrap(err, "compensate")),
			)
		}
	}
}
