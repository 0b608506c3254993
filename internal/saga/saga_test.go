package saga

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, fail bool) Step {
	return Step{
		Name: name,
		Execute: func(context.Context) error {
			r.calls = append(r.calls, "exec:"+name)
			if fail {
				return errors.New(name + " failed")
			}
			return nil
		},
		Compensate: func(context.Context) error {
			r.calls = append(r.calls, "undo:"+name)
			return nil
		},
	}
}

func TestOrchestrator_Run(t *testing.T) {
	rec := &recorder{}
	err := New("ok", rec.step("a", false), rec.step("b", false)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"exec:a", "exec:b"}, rec.calls)
}

func TestOrchestrator_CompensatesInReverse(t *testing.T) {
	rec := &recorder{}
	o := New("fail",
		rec.step("a", false),
		rec.step("b", false),
		rec.step("c", true),
		rec.step("d", false),
	)

	err := o.Run(context.Background())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "c", stepErr.Step)
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c", "undo:b", "undo:a"}, rec.calls)
}

func TestOrchestrator_UnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	o := New("cause").Add(Step{
		Name:    "only",
		Execute: func(context.Context) error { return cause },
	})

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestOrchestrator_CompensationFailureContinues(t *testing.T) {
	var undone []string
	o := New("partial",
		Step{
			Name:       "first",
			Execute:    func(context.Context) error { return nil },
			Compensate: func(context.Context) error { undone = append(undone, "first"); return nil },
		},
		Step{
			Name:       "second",
			Execute:    func(context.Context) error { return nil },
			Compensate: func(context.Context) error { return errors.New("stuck") },
		},
		Step{Name: "nil-undo", Execute: func(context.Context) error { return nil }},
		Step{
			Name:    "last",
			Execute: func(context.Context) error { return errors.New("nope") },
		},
	)

	require.Error(t, o.Run(context.Background()))
	assert.Equal(t, []string{"first"}, undone)
}

func TestOrchestrator_CompensatesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoErr error
	o := New("cancel",
		Step{
			Name:    "reserve",
			Execute: func(context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				undoErr = ctx.Err()
				return nil
			},
		},
		Step{
			Name: "persist",
			Execute: func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			},
		},
	)

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, undoErr)
}
