// Package tx defines the unit-of-work boundary domain services run in.
package tx

import "context"

// Transactor runs fn inside one unit of work. Storage calls made with the ctx
// passed to fn join it; the work commits when fn returns nil and is rolled
// back otherwise. Nested calls join the outer unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// None runs fn directly. Stores without transactions rely on saga
// compensations for atomicity.
type None struct{}

func (None) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
