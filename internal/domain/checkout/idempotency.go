package checkout

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrInProgress is returned when another request holds the idempotency key.
var ErrInProgress = errors.New("checkout with this idempotency key is in progress")

// IdempotencyStore deduplicates checkout requests by client-supplied key.
type IdempotencyStore interface {
	// Begin claims key. It returns the order id of a checkout already
	// completed under key, or "" when the caller now holds the key.
	// ErrInProgress means another request holds it.
	Begin(ctx context.Context, key string) (string, error)
	// Complete binds key to the created order.
	Complete(ctx context.Context, key, orderID string) error
	// Abort frees key after a failed checkout so the client can retry.
	Abort(ctx context.Context, key string) error
}
