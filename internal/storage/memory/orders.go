package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

var (
	_ order.Store      = (*Orders)(nil)
	_ order.CheckoutTx = (*checkoutTx)(nil)
)

// Orders implements order.Store.
type Orders struct {
	db *DB
}

// Checkout runs fn while holding the database lock. Writes made through the
// transaction are undone when fn fails or panics.
func (r *Orders) Checkout(ctx context.Context, fn func(ctx context.Context, tx order.CheckoutTx) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx := &checkoutTx{db: r.db}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Get returns an order by id.
func (r *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// List returns a page of orders, newest first.
func (r *Orders) List(_ context.Context, f order.ListFilter) ([]order.Order, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var matched []order.Order
	for _, o := range r.db.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}
	slices.SortFunc(matched, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(matched, f.Page, f.PageSize), len(matched), nil
}

// UpdateStatus applies a status change under the database lock.
func (r *Orders) UpdateStatus(_ context.Context, id string, apply func(o *order.Order) error) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := cloneOrder(o)
	if err := apply(c); err != nil {
		return nil, err
	}
	o.Status = c.Status
	o.UpdatedAt = c.UpdatedAt
	return cloneOrder(o), nil
}

type checkoutTx struct {
	db   *DB
	undo []func()
}

func (tx *checkoutTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func (tx *checkoutTx) FindByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	for _, o := range tx.db.orders {
		if o.IdempotencyKey == key {
			return cloneOrder(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (tx *checkoutTx) LockVariants(_ context.Context, ids []string) (map[string]catalog.VariantInfo, error) {
	return tx.db.variantInfos(ids), nil
}

func (tx *checkoutTx) LockDiscount(_ context.Context, code string) (*discount.Discount, error) {
	d := tx.db.discountByCode(code)
	if d == nil {
		return nil, discount.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (tx *checkoutTx) DecrementStock(_ context.Context, variantID string, quantity int) error {
	v, _ := tx.db.variant(variantID)
	if v == nil {
		return &catalog.VariantNotFoundError{VariantID: variantID}
	}
	if v.Stock < quantity {
		return &pricing.InsufficientStockError{VariantID: variantID, Requested: quantity, Available: v.Stock}
	}
	v.Stock -= quantity
	v.Sold += quantity
	tx.undo = append(tx.undo, func() {
		if v, _ := tx.db.variant(variantID); v != nil {
			v.Stock += quantity
			v.Sold -= quantity
		}
	})
	return nil
}

func (tx *checkoutTx) RedeemDiscount(_ context.Context, discountID string) error {
	d, ok := tx.db.discounts[discountID]
	if !ok {
		return discount.ErrNotFound
	}
	if d.UsageCount >= d.UsageLimit {
		return discount.ErrExhausted
	}
	d.UsageCount++
	tx.undo = append(tx.undo, func() { d.UsageCount-- })
	return nil
}

func (tx *checkoutTx) Insert(_ context.Context, o *order.Order) error {
	if o.IdempotencyKey != "" {
		for _, existing := range tx.db.orders {
			if existing.IdempotencyKey == o.IdempotencyKey {
				return order.ErrIdempotencyKeyConflict
			}
		}
	}
	tx.db.orders[o.ID] = cloneOrder(o)
	tx.undo = append(tx.undo, func() { delete(tx.db.orders, o.ID) })
	return nil
}
