package memory

import (
	"context"
	"slices"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

var _ discount.Repository = (*Discounts)(nil)

// Discounts implements discount.Repository.
type Discounts struct {
	db *DB
}

// FindByCode looks a code up. Codes are stored normalized.
func (r *Discounts) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	d := r.db.discountByCode(code)
	if d == nil {
		return nil, discount.ErrNotFound
	}
	c := *d
	return &c, nil
}

// discountByCode must be called with db.mu held.
func (db *DB) discountByCode(code string) *discount.Discount {
	for _, d := range db.discounts {
		if d.Code == code {
			return d
		}
	}
	return nil
}

// List returns all discounts, newest first.
func (r *Discounts) List(_ context.Context) ([]discount.Discount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]discount.Discount, 0, len(r.db.discounts))
	for _, d := range r.db.discounts {
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b discount.Discount) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Create stores a new discount.
func (r *Discounts) Create(_ context.Context, d *discount.Discount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.db.discountByCode(d.Code) != nil {
		return discount.ErrDuplicateCode
	}
	c := *d
	r.db.discounts[d.ID] = &c
	return nil
}

// Delete removes a discount by id.
func (r *Discounts) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.discounts[id]; !ok {
		return discount.ErrNotFound
	}
	delete(r.db.discounts, id)
	return nil
}
