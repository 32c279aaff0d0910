// Package memory implements every storage interface in process memory.
//
// All repositories returned by a DB share one mutex. A checkout holds it for
// the whole transaction, so checkouts are serializable.
package memory

import (
	"sync"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// DB is the shared in-memory state.
type DB struct {
	mu        sync.Mutex
	products  map[string]*catalog.Product
	variantOf map[string]string // variant id -> product id
	discounts map[string]*discount.Discount
	orders    map[string]*order.Order
	users     map[string]*auth.User
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		products:  make(map[string]*catalog.Product),
		variantOf: make(map[string]string),
		discounts: make(map[string]*discount.Discount),
		orders:    make(map[string]*order.Order),
		users:     make(map[string]*auth.User),
	}
}

// Products returns the catalog repository.
func (db *DB) Products() *Products { return &Products{db: db} }

// Discounts returns the discount repository.
func (db *DB) Discounts() *Discounts { return &Discounts{db: db} }

// Orders returns the order store.
func (db *DB) Orders() *Orders { return &Orders{db: db} }

// Users returns the user repository.
func (db *DB) Users() *Users { return &Users{db: db} }

// variant returns a pointer into the owning product's variant slice.
// Callers must hold db.mu.
func (db *DB) variant(id string) (*catalog.Variant, *catalog.Product) {
	pid, ok := db.variantOf[id]
	if !ok {
		return nil, nil
	}
	p := db.products[pid]
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], p
		}
	}
	return nil, nil
}

func cloneProduct(p *catalog.Product) catalog.Product {
	c := *p
	c.ImageURLs = append([]string(nil), p.ImageURLs...)
	c.Variants = append([]catalog.Variant(nil), p.Variants...)
	c.Ratings = append([]catalog.Rating(nil), p.Ratings...)
	c.Score = catalog.Summarize(c.Ratings)
	return c
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Lines = append([]order.Line(nil), o.Lines...)
	return &c
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	c.Addresses = append([]string(nil), u.Addresses...)
	return &c
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	start := max(page-1, 0) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}
