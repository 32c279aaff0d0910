// Package pricing computes order totals from resolved catalog state.
//
// Calculate is pure: the preview endpoint and the committing checkout
// transaction both call it, so identical catalog state always yields
// identical totals.
package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

// MaxQuantity bounds the quantity of a single line.
const MaxQuantity = 1000

var (
	// ErrEmptyItems is returned when no items are requested.
	ErrEmptyItems = apperr.Validation("items required")
	// ErrTotalOverflow is returned when a total does not fit in int64.
	ErrTotalOverflow = apperr.Validation("order total is too large")
)

// InsufficientStockError indicates a variant cannot cover the requested quantity.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

// Kind implements apperr.Classified.
func (e *InsufficientStockError) Kind() apperr.Kind { return apperr.KindConflict }

// Reason implements apperr.Classified.
func (e *InsufficientStockError) Reason() string { return "insufficient_stock" }

// InvalidQuantityError indicates a line item quantity outside 1..MaxQuantity.
type InvalidQuantityError struct {
	VariantID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity for variant %s must be between 1 and %d, got %d",
		e.VariantID, MaxQuantity, e.Quantity)
}

// Kind implements apperr.Classified.
func (e *InvalidQuantityError) Kind() apperr.Kind { return apperr.KindValidation }

// Reason implements apperr.Classified.
func (e *InvalidQuantityError) Reason() string { return "validation" }

// Item is a requested (variant, quantity) pair.
type Item struct {
	VariantID string
	Quantity  int
}

// Line is a priced order line.
type Line struct {
	VariantID    string
	ProductID    string
	ProductTitle string
	VariantName  string
	ImageURL     string
	UnitPrice    int64
	Quantity     int
	LineTotal    int64
}

// Quote is the result of pricing a cart. ItemsTotal - DiscountAmount equals
// TotalPrice; DiscountAmount never exceeds ItemsTotal.
type Quote struct {
	Lines          []Line
	ItemsTotal     int64
	DiscountCode   string
	DiscountValue  int64
	DiscountAmount int64
	TotalPrice     int64
}

// NormalizeItems validates a request's items and merges duplicates, keeping
// the order of first appearance.
func NormalizeItems(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	out := make([]Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.VariantID)
		if id == "" {
			return nil, apperr.Validation("variantId required")
		}
		if it.Quantity < 1 || it.Quantity > MaxQuantity {
			return nil, &InvalidQuantityError{VariantID: id, Quantity: it.Quantity}
		}
		if i, ok := index[id]; ok {
			out[i].Quantity += it.Quantity
			if out[i].Quantity > MaxQuantity {
				return nil, &InvalidQuantityError{VariantID: id, Quantity: out[i].Quantity}
			}
			continue
		}
		index[id] = len(out)
		out = append(out, Item{VariantID: id, Quantity: it.Quantity})
	}
	return out, nil
}

// VariantIDs returns the variant ids of items in order.
func VariantIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.VariantID
	}
	return ids
}

// Calculate prices normalized items against resolved variants. When code is
// non-empty, d is the discount looked up for it (nil when unknown); a code
// that is unknown or exhausted fails the whole calculation.
func Calculate(items []Item, variants map[string]catalog.VariantInfo, code string, d *discount.Discount) (*Quote, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	q := &Quote{Lines: make([]Line, 0, len(items))}
	for _, it := range items {
		v, ok := variants[it.VariantID]
		if !ok {
			return nil, &catalog.VariantNotFoundError{VariantID: it.VariantID}
		}
		if it.Quantity > v.Stock {
			return nil, &InsufficientStockError{
				VariantID: it.VariantID,
				Requested: it.Quantity,
				Available: v.Stock,
			}
		}

		lineTotal, ok := mul(v.Price, int64(it.Quantity))
		if !ok {
			return nil, ErrTotalOverflow
		}
		if q.ItemsTotal, ok = add(q.ItemsTotal, lineTotal); !ok {
			return nil, ErrTotalOverflow
		}

		q.Lines = append(q.Lines, Line{
			VariantID:    v.ID,
			ProductID:    v.ProductID,
			ProductTitle: v.ProductTitle,
			VariantName:  v.Name,
			ImageURL:     v.ImageURL,
			UnitPrice:    v.Price,
			Quantity:     it.Quantity,
			LineTotal:    lineTotal,
		})
	}

	q.TotalPrice = q.ItemsTotal
	if code == "" {
		return q, nil
	}

	if err := discount.Evaluate(d).Err(); err != nil {
		return nil, err
	}
	q.DiscountCode = d.Code
	q.DiscountValue = d.Value
	q.DiscountAmount = min(d.Value, q.ItemsTotal)
	q.TotalPrice = q.ItemsTotal - q.DiscountAmount
	return q, nil
}

func mul(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func add(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
