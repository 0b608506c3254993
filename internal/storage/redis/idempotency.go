package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
)

const pendingMarker = "\x00pending"

var _ checkout.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore claims checkout idempotency keys with SET NX. A claimed
// key holds a pending marker until the checkout completes, then the order ID.
type IdempotencyStore struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewIdempotencyStore returns a store whose keys expire after ttl.
func NewIdempotencyStore(rdb *goredis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl, prefix: "idem:checkout:"}
}

func (s *IdempotencyStore) Begin(ctx context.Context, key string) (string, error) {
	k := s.prefix + key
	for range 2 {
		ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("claiming idempotency key %q: %w", key, err)
		}
		if ok {
			return "", nil
		}

		v, err := s.rdb.Get(ctx, k).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			// Expired between SETNX and GET; claim again.
			continue
		case err != nil:
			return "", fmt.Errorf("reading idempotency key %q: %w", key, err)
		case v == pendingMarker:
			return "", checkout.ErrInProgress
		default:
			return v, nil
		}
	}
	return "", checkout.ErrInProgress
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("completing idempotency key %q: %w", key, err)
	}
	return nil
}

func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key %q: %w", key, err)
	}
	return nil
}
