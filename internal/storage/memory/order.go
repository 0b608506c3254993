package memory

import (
	"context"
	"sync"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository is an in-memory order table with optimistic versioning.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

// NewOrderRepository returns an empty order table.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: map[string]*order.Order{}}
}

func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return &order.ConcurrencyConflictError{Entity: "order", ID: o.ID}
	}
	o.Version = 1
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) Update(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if stored.Version != o.Version {
		return &order.ConcurrencyConflictError{Entity: "order", ID: o.ID}
	}
	o.Version++
	r.orders[o.ID] = o.Clone()
	return nil
}

// Len returns the number of stored orders.
func (r *OrderRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}
