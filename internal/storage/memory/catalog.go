// Package memory implements the storage interfaces in process memory. It
// backs the dev mode of the API server and the domain tests. Every
// conditional update runs under a lock, which gives the same atomicity the
// PostgreSQL repositories get from single-statement updates.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

var (
	_ product.Repository    = (*ProductRepository)(nil)
	_ product.StockObserver = (*ProductRepository)(nil)
	_ cart.Provider         = (*CartRepository)(nil)
	_ cart.Clearer          = (*CartRepository)(nil)
)

// ProductRepository is an in-memory catalog.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]product.Product
}

// NewProductRepository returns an empty catalog.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: map[string]product.Product{}}
}

// Put inserts or replaces products.
func (r *ProductRepository) Put(products ...product.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		r.products[p.ID] = p
	}
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products that exist, in no particular order.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *ProductRepository) StockDepleted(_ context.Context, productID string) error {
	r.setStatus(productID, product.StatusActive, product.StatusOutOfStock)
	return nil
}

func (r *ProductRepository) StockRestored(_ context.Context, productID string) error {
	r.setStatus(productID, product.StatusOutOfStock, product.StatusActive)
	return nil
}

func (r *ProductRepository) setStatus(id string, from, to product.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.products[id]; ok && p.Status == from {
		p.Status = to
		r.products[id] = p
	}
}

// CartRepository is an in-memory cart store.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string][]cart.Line
}

// NewCartRepository returns an empty cart store.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: map[string][]cart.Line{}}
}

// Set replaces the user's cart.
func (r *CartRepository) Set(userID string, lines ...cart.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[userID] = append([]cart.Line(nil), lines...)
}

func (r *CartRepository) GetLineItems(_ context.Context, userID string) ([]cart.Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cart.Line(nil), r.carts[userID]...), nil
}

func (r *CartRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}
