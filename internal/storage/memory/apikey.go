package memory

import (
	"context"
	"sync"

	"github.com/xenking/marketplace-checkout/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository is an in-memory API key table keyed by hash.
type APIKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]auth.APIKeyInfo
}

// NewAPIKeyRepository returns an empty key table.
func NewAPIKeyRepository() *APIKeyRepository {
	return &APIKeyRepository{keys: map[string]auth.APIKeyInfo{}}
}

// Put stores a key under info.KeyHash.
func (r *APIKeyRepository) Put(info auth.APIKeyInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[info.KeyHash] = info
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &info, nil
}
