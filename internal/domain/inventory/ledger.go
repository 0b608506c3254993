package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// Ledger reserves and releases stock.
type Ledger struct {
	repo     Repository
	observer product.StockObserver
}

var _ Reserver = (*Ledger)(nil)

// NewLedger creates a Ledger backed by repo. The observer is optional.
func NewLedger(repo Repository, observer product.StockObserver) *Ledger {
	return &Ledger{repo: repo, observer: observer}
}

// Reserve atomically takes qty units. It never partially decrements: either
// the whole quantity is taken or an error is returned and stock is unchanged.
func (l *Ledger) Reserve(ctx context.Context, key Key, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	remaining, err := l.repo.Decrement(ctx, key, qty)
	if err != nil {
		if errors.Is(err, ErrUnitNotFound) {
			return errors.Wrapf(err, "reserve %s", key)
		}
		return err
	}
	if remaining > 0 || l.observer == nil {
		return nil
	}

	if err := l.notify(ctx, key, 0, l.observer.StockDepleted); err != nil {
		if _, rerr := l.repo.Increment(ctx, key, qty); rerr != nil {
			return errors.Wrapf(errors.Join(err, rerr), "return %s after failed notification", key)
		}
		return errors.Wrapf(err, "mark %s out of stock", key)
	}
	return nil
}

// Release returns qty units to stock.
func (l *Ledger) Release(ctx context.Context, key Key, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	onHand, err := l.repo.Increment(ctx, key, qty)
	if err != nil {
		if errors.Is(err, ErrUnitNotFound) {
			return errors.Wrapf(err, "release %s", key)
		}
		return err
	}
	// Only a unit that was empty can bring the product back.
	if onHand != qty || l.observer == nil {
		return nil
	}

	if err := l.notify(ctx, key, qty, l.observer.StockRestored); err != nil {
		if _, rerr := l.repo.Decrement(ctx, key, qty); rerr != nil {
			return errors.Wrapf(errors.Join(err, rerr), "take back %s after failed notification", key)
		}
		return errors.Wrapf(err, "mark %s back in stock", key)
	}
	return nil
}

// notify calls fn when the product's total stock across all variants equals
// want, so a single empty variant does not hide the product.
func (l *Ledger) notify(ctx context.Context, key Key, want int, fn func(context.Context, string) error) error {
	total, err := l.repo.ProductOnHand(ctx, key.ProductID)
	if err != nil {
		return errors.Wrapf(err, "sum stock of %s", key.ProductID)
	}
	if total != want {
		return nil
	}
	return fn(ctx, key.ProductID)
}

// ReserveAll reserves every line or none of them. On the first failure the
// lines already taken are released in reverse order and the original error is
// returned.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	for i, line := range lines {
		if err := l.Reserve(ctx, line.Key, line.Quantity); err != nil {
			l.undo(ctx, lines[:i])
			return err
		}
	}
	return nil
}

// ReleaseAll releases every line. It stops at the first failure and re-takes
// the lines already released so the caller can abort its unit of work cleanly.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []Line) error {
	for i, line := range lines {
		if err := l.Release(ctx, line.Key, line.Quantity); err != nil {
			for j := i - 1; j >= 0; j-- {
				if rerr := l.Reserve(ctx, lines[j].Key, lines[j].Quantity); rerr != nil {
					zctx.From(ctx).Error("Failed to re-reserve stock after release error",
						zap.Stringer("unit", lines[j].Key),
						zap.Int("quantity", lines[j].Quantity),
						zap.Error(rerr),
					)
				}
			}
			return errors.Wrapf(err, "release %s", line.Key)
		}
	}
	return nil
}

func (l *Ledger) undo(ctx context.Context, taken []Line) {
	for i := len(taken) - 1; i >= 0; i-- {
		if err := l.Release(ctx, taken[i].Key, taken[i].Quantity); err != nil {
			zctx.From(ctx).Error("Failed to release stock during rollback",
				zap.Stringer("unit", taken[i].Key),
				zap.Int("quantity", taken[i].Quantity),
				zap.Error(err),
			)
		}
	}
}

// Unit returns the current stock record for key.
func (l *Ledger) Unit(ctx context.Context, key Key) (*Unit, error) {
	return l.repo.Get(ctx, key)
}
