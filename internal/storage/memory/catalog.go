package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

var (
	_ catalog.Repository    = (*Products)(nil)
	_ catalog.VariantReader = (*Products)(nil)
)

// Products implements catalog.Repository and catalog.VariantReader.
type Products struct {
	db *DB
}

// List filters, sorts and pages products.
func (r *Products) List(_ context.Context, f catalog.ListFilter) (*catalog.Page, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(f.SearchKey))
	var matched []catalog.Product
	for _, p := range r.db.products {
		if f.Brand != "" && !strings.EqualFold(p.Brand, f.Brand) {
			continue
		}
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Title), search) {
			continue
		}
		matched = append(matched, cloneProduct(p))
	}

	slices.SortFunc(matched, func(a, b catalog.Product) int {
		switch f.SortBy {
		case catalog.SortPriceAsc:
			if c := cmpInt64(minPrice(a), minPrice(b)); c != 0 {
				return c
			}
		case catalog.SortPriceDesc:
			if c := cmpInt64(minPrice(b), minPrice(a)); c != 0 {
				return c
			}
		case catalog.SortTitle:
			if c := strings.Compare(a.Title, b.Title); c != 0 {
				return c
			}
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return &catalog.Page{
		Products: paginate(matched, f.Page, f.PageSize),
		Total:    len(matched),
	}, nil
}

func minPrice(p catalog.Product) int64 {
	if len(p.Variants) == 0 {
		return 0
	}
	m := p.Variants[0].Price
	for _, v := range p.Variants[1:] {
		m = min(m, v.Price)
	}
	return m
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// GetByID returns a product by id.
func (r *Products) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	c := cloneProduct(p)
	return &c, nil
}

// GetBySlug returns a product by slug.
func (r *Products) GetBySlug(_ context.Context, slug string) (*catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, p := range r.db.products {
		if p.Slug == slug {
			c := cloneProduct(p)
			return &c, nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

// SlugExists reports whether a product uses slug.
func (r *Products) SlugExists(_ context.Context, slug string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, p := range r.db.products {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// Create stores a new product with its variants.
func (r *Products) Create(_ context.Context, p *catalog.Product) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, o := range r.db.products {
		if o.Slug == p.Slug {
			return catalog.ErrSlugTaken
		}
	}
	c := cloneProduct(p)
	r.db.products[p.ID] = &c
	for _, v := range p.Variants {
		r.db.variantOf[v.ID] = p.ID
	}
	return nil
}

// Update replaces a product and its variant set. Ratings are kept.
func (r *Products) Update(_ context.Context, p *catalog.Product) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	old, ok := r.db.products[p.ID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	for _, v := range old.Variants {
		delete(r.db.variantOf, v.ID)
	}
	c := cloneProduct(p)
	c.Ratings = old.Ratings
	r.db.products[p.ID] = &c
	for _, v := range p.Variants {
		r.db.variantOf[v.ID] = p.ID
	}
	return nil
}

// Delete removes a product and its variants.
func (r *Products) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	for _, v := range p.Variants {
		delete(r.db.variantOf, v.ID)
	}
	delete(r.db.products, id)
	return nil
}

// AddRating appends a rating to its product.
func (r *Products) AddRating(_ context.Context, rt *catalog.Rating) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[rt.ProductID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.Ratings = append(p.Ratings, *rt)
	return nil
}

// Brands returns the distinct brands, sorted.
func (r *Products) Brands(_ context.Context) ([]string, error) {
	return r.distinct(func(p *catalog.Product) string { return p.Brand }), nil
}

// Categories returns the distinct categories, sorted.
func (r *Products) Categories(_ context.Context) ([]string, error) {
	return r.distinct(func(p *catalog.Product) string { return p.Category }), nil
}

func (r *Products) distinct(field func(*catalog.Product) string) []string {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]string, 0)
	for _, p := range r.db.products {
		if v := field(p); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// GetVariants resolves variant ids to their current state.
func (r *Products) GetVariants(_ context.Context, ids []string) (map[string]catalog.VariantInfo, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return r.db.variantInfos(ids), nil
}

// variantInfos must be called with db.mu held.
func (db *DB) variantInfos(ids []string) map[string]catalog.VariantInfo {
	out := make(map[string]catalog.VariantInfo, len(ids))
	for _, id := range ids {
		v, p := db.variant(id)
		if v == nil {
			continue
		}
		info := catalog.VariantInfo{Variant: *v, ProductTitle: p.Title}
		if len(p.ImageURLs) > 0 {
			info.ImageURL = p.ImageURLs[0]
		}
		out[id] = info
	}
	return out
}
