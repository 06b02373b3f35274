package inventory

import (
	"context"
	"fmt"
	"math"
)

// Ledger applies quantity mutations to items inside one unit of work. Every
// operation reads the item with a row lock, checks, and writes back before the
// unit of work releases the lock, so concurrent mutations of one item never
// interleave. Callers pair each mutation with the journal entry explaining it.
type Ledger struct {
	tx TxRepository
}

// NewLedger binds a ledger to a unit of work.
func NewLedger(tx TxRepository) *Ledger {
	return &Ledger{tx: tx}
}

// Increase adds qty to the item's on-hand quantity.
func (l *Ledger) Increase(ctx context.Context, itemID int64, qty int) (Movement, error) {
	if qty <= 0 {
		return Movement{}, validationError("quantity must be positive")
	}
	item, err := l.load(ctx, itemID)
	if err != nil {
		return Movement{}, err
	}
	if item.OnHand > math.MaxInt32-qty {
		return Movement{}, validationError("quantity overflows on-hand stock")
	}
	return l.apply(ctx, item, item.OnHand+qty)
}

// Decrease subtracts qty, failing with *InsufficientStockError when the
// item holds less than qty. Stock is left untouched on failure.
func (l *Ledger) Decrease(ctx context.Context, itemID int64, qty int) (Movement, error) {
	if qty <= 0 {
		return Movement{}, validationError("quantity must be positive")
	}
	item, err := l.load(ctx, itemID)
	if err != nil {
		return Movement{}, err
	}
	if item.OnHand < qty {
		return Movement{}, &InsufficientStockError{ItemID: itemID, OnHand: item.OnHand, Requested: qty}
	}
	return l.apply(ctx, item, item.OnHand-qty)
}

// Overwrite sets on-hand to actual regardless of the previous value or the
// minimum level. Only reconciliation uses it.
func (l *Ledger) Overwrite(ctx context.Context, itemID int64, actual int) (Movement, error) {
	if actual < 0 {
		return Movement{}, validationError("actual quantity must not be negative")
	}
	if actual > math.MaxInt32 {
		return Movement{}, validationError("actual quantity exceeds the storable maximum")
	}
	item, err := l.load(ctx, itemID)
	if err != nil {
		return Movement{}, err
	}
	return l.apply(ctx, item, actual)
}

func (l *Ledger) load(ctx context.Context, itemID int64) (Item, error) {
	if itemID <= 0 {
		return Item{}, validationError("item id required")
	}
	item, err := l.tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return Item{}, fmt.Errorf("inventory: item %d: %w", itemID, err)
	}
	return item, nil
}

func (l *Ledger) apply(ctx context.Context, item Item, onHand int) (Movement, error) {
	before := item.OnHand
	item.OnHand = onHand
	if err := l.tx.SaveItem(ctx, item); err != nil {
		return Movement{}, err
	}
	return Movement{Item: item, Before: before, After: onHand}, nil
}
