package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

var (
	// ErrProductNotFound is returned when a product id or slug is unknown.
	ErrProductNotFound = apperr.New(apperr.KindNotFound, "product_not_found", "product not found")
	// ErrSlugTaken is returned by repositories when a slug already exists.
	ErrSlugTaken = apperr.New(apperr.KindConflict, "conflict", "slug already taken")
)

// VariantNotFoundError indicates a requested variant does not exist.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s not found", e.VariantID)
}

// Kind implements apperr.Classified.
func (e *VariantNotFoundError) Kind() apperr.Kind { return apperr.KindNotFound }

// Reason implements apperr.Classified.
func (e *VariantNotFoundError) Reason() string { return "variant_not_found" }

// Variant is a purchasable SKU of a product. Price is in the smallest
// currency unit.
type Variant struct {
	ID        string
	ProductID string
	Name      string
	Price     int64
	Stock     int
	Sold      int
}

// VariantInfo is a variant joined with the product fields needed to render
// an order line.
type VariantInfo struct {
	Variant
	ProductTitle string
	ImageURL     string
}

// Rating is a user's score for a product.
type Rating struct {
	ID        string
	ProductID string
	UserID    string
	UserName  string
	Score     int
	Comment   string
	CreatedAt time.Time
}

// RatingSummary aggregates the ratings of a product.
type RatingSummary struct {
	Count   int
	Average decimal.Decimal
}

// Summarize returns the count and the mean score rounded to one decimal
// place. The average of no ratings is zero.
func Summarize(ratings []Rating) RatingSummary {
	if len(ratings) == 0 {
		return RatingSummary{Average: decimal.Zero}
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Score
	}
	return RatingSummary{
		Count: len(ratings),
		Average: decimal.NewFromInt(int64(sum)).
			Div(decimal.NewFromInt(int64(len(ratings)))).
			Round(1),
	}
}

// Product is a catalog entry owning its variants and ratings. Listings may
// leave Ratings empty but always fill Score.
type Product struct {
	ID          string
	Title       string
	Slug        string
	Description string
	Category    string
	Brand       string
	ImageURLs   []string
	Variants    []Variant
	Ratings     []Rating
	Score       RatingSummary
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SortBy enumerates product list orderings.
type SortBy string

const (
	SortNewest    SortBy = "newest"
	SortPriceAsc  SortBy = "price_asc"
	SortPriceDesc SortBy = "price_desc"
	SortTitle     SortBy = "title"
)

// Valid reports whether s is a known ordering.
func (s SortBy) Valid() bool {
	switch s {
	case SortNewest, SortPriceAsc, SortPriceDesc, SortTitle:
		return true
	}
	return false
}

// ListFilter narrows and pages a product listing. Page is 1-based.
type ListFilter struct {
	Brand     string
	Category  string
	SearchKey string
	SortBy    SortBy
	Page      int
	PageSize  int
}

// Offset returns the number of rows to skip for the filter's page.
func (f ListFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Page is one page of products plus the total match count.
type Page struct {
	Products []Product
	Total    int
}

// Repository defines catalog persistence.
type Repository interface {
	List(ctx context.Context, f ListFilter) (*Page, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetBySlug(ctx context.Context, slug string) (*Product, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
	AddRating(ctx context.Context, r *Rating) error
	Brands(ctx context.Context) ([]string, error)
	Categories(ctx context.Context) ([]string, error)
}

// VariantReader resolves variants to their current price and stock. Results
// are keyed by variant id; unknown ids are simply absent.
type VariantReader interface {
	GetVariants(ctx context.Context, ids []string) (map[string]VariantInfo, error)
}
