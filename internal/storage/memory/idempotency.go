package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
)

var _ checkout.IdempotencyStore = (*IdempotencyStore)(nil)

type idemEntry struct {
	orderID string
	expires time.Time
}

// IdempotencyStore keeps checkout idempotency keys in memory.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idemEntry
	now     func() time.Time
}

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:     ttl,
		entries: map[string]idemEntry{},
		now:     time.Now,
	}
}

func (s *IdempotencyStore) Begin(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.orderID == "" {
			return "", checkout.ErrInProgress
		}
		return e.orderID, nil
	}
	s.entries[key] = idemEntry{expires: now.Add(s.ttl)}
	return "", nil
}

func (s *IdempotencyStore) Complete(_ context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{orderID: orderID, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *IdempotencyStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
