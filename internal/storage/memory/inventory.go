package memory

import (
	"context"
	"sync"

	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository is an in-memory stock table.
type InventoryRepository struct {
	mu    sync.Mutex
	units map[inventory.Key]*inventory.Unit
}

// NewInventoryRepository returns an empty stock table.
func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{units: map[inventory.Key]*inventory.Unit{}}
}

// Put inserts or replaces a unit. Status follows OnHand.
func (r *InventoryRepository) Put(u inventory.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.Status = statusFor(u.OnHand)
	r.units[u.Key] = &u
}

func (r *InventoryRepository) Get(_ context.Context, key inventory.Key) (*inventory.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[key]
	if !ok {
		return nil, inventory.ErrUnitNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InventoryRepository) Decrement(_ context.Context, key inventory.Key, qty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[key]
	if !ok {
		return 0, inventory.ErrUnitNotFound
	}
	if u.OnHand < qty {
		return 0, &inventory.InsufficientStockError{
			ProductID: key.ProductID,
			VariantID: key.VariantID,
			Requested: qty,
			Available: u.OnHand,
		}
	}
	u.OnHand -= qty
	u.Status = statusFor(u.OnHand)
	return u.OnHand, nil
}

func (r *InventoryRepository) Increment(_ context.Context, key inventory.Key, qty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[key]
	if !ok {
		return 0, inventory.ErrUnitNotFound
	}
	u.OnHand += qty
	u.Status = statusFor(u.OnHand)
	return u.OnHand, nil
}

func (r *InventoryRepository) ProductOnHand(_ context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for k, u := range r.units {
		if k.ProductID == productID {
			total += u.OnHand
		}
	}
	return total, nil
}

func statusFor(onHand int) inventory.Status {
	if onHand > 0 {
		return inventory.StatusActive
	}
	return inventory.StatusOutOfStock
}
