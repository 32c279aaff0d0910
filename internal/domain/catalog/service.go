package catalog

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

const (
	maxSlugAttempts  = 50
	maxCommentLength = 1000
	defaultPageSize  = 20
	maxPageSize      = 100
)

// ProductInput holds the admin-editable fields of a product.
type ProductInput struct {
	Title       string
	Description string
	Category    string
	Brand       string
	ImageURLs   []string
	Variants    []VariantInput
}

// VariantInput describes a variant on create or update. An empty ID on
// update adds a new variant.
type VariantInput struct {
	ID    string
	Name  string
	Price int64
	Stock int
}

// RatingInput is a user's rating submission.
type RatingInput struct {
	UserID   string
	UserName string
	Score    int
	Comment  string
}

// Service holds catalog business rules on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a catalog Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns a filtered page of products with paging defaults applied.
func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.SortBy == "" {
		f.SortBy = SortNewest
	}
	if !f.SortBy.Valid() {
		return nil, apperr.Validation("unknown sortBy " + string(f.SortBy))
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	page, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return page, nil
}

// GetBySlug returns a product with its variants and ratings.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Product, error) {
	return s.repo.GetBySlug(ctx, strings.ToLower(slug))
}

// Brands returns the distinct brand names in the catalog.
func (s *Service) Brands(ctx context.Context) ([]string, error) {
	return s.repo.Brands(ctx)
}

// Categories returns the distinct category names in the catalog.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.repo.Categories(ctx)
}

// Create validates the input, assigns a unique slug and persists the product.
func (s *Service) Create(ctx context.Context, in ProductInput) (*Product, error) {
	if err := validateProduct(in); err != nil {
		return nil, err
	}

	slug, err := s.uniqueSlug(ctx, Slugify(in.Title))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Product{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(in.Title),
		Slug:        slug,
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		Brand:       strings.TrimSpace(in.Brand),
		ImageURLs:   in.ImageURLs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, v := range in.Variants {
		p.Variants = append(p.Variants, Variant{
			ID:        uuid.New().String(),
			ProductID: p.ID,
			Name:      strings.TrimSpace(v.Name),
			Price:     v.Price,
			Stock:     v.Stock,
		})
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

// Update replaces the editable fields of a product. The slug is kept stable
// so existing links keep working. Variants not listed are removed; sold
// counters of kept variants are preserved.
func (s *Service) Update(ctx context.Context, id string, in ProductInput) (*Product, error) {
	if err := validateProduct(in); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]Variant, len(p.Variants))
	for _, v := range p.Variants {
		existing[v.ID] = v
	}

	variants := make([]Variant, 0, len(in.Variants))
	for _, v := range in.Variants {
		nv := Variant{
			ID:        v.ID,
			ProductID: p.ID,
			Name:      strings.TrimSpace(v.Name),
			Price:     v.Price,
			Stock:     v.Stock,
		}
		if v.ID == "" {
			nv.ID = uuid.New().String()
		} else if old, ok := existing[v.ID]; ok {
			nv.Sold = old.Sold
		} else {
			return nil, &VariantNotFoundError{VariantID: v.ID}
		}
		variants = append(variants, nv)
	}

	p.Title = strings.TrimSpace(in.Title)
	p.Description = in.Description
	p.Category = strings.TrimSpace(in.Category)
	p.Brand = strings.TrimSpace(in.Brand)
	p.ImageURLs = in.ImageURLs
	p.Variants = variants
	p.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "update product %s", id)
	}
	return p, nil
}

// Delete removes a product and its variants.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// AddRating appends a rating to the product identified by id.
func (s *Service) AddRating(ctx context.Context, productID string, in RatingInput) (*Rating, error) {
	if in.Score < 1 || in.Score > 5 {
		return nil, apperr.Validation("score must be between 1 and 5")
	}
	if utf8.RuneCountInString(in.Comment) > maxCommentLength {
		return nil, apperr.Validation("comment is too long")
	}
	if _, err := s.repo.GetByID(ctx, productID); err != nil {
		return nil, err
	}

	r := &Rating{
		ID:        uuid.New().String(),
		ProductID: productID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Score:     in.Score,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.AddRating(ctx, r); err != nil {
		return nil, errors.Wrap(err, "add rating")
	}
	return r, nil
}

func (s *Service) uniqueSlug(ctx context.Context, base string) (string, error) {
	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := withSuffix(base, n)
		taken, err := s.repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", errors.Wrap(err, "check slug")
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(ErrSlugTaken, "slug %q", base)
}

func validateProduct(in ProductInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation("title required")
	}
	if len(in.Variants) == 0 {
		return apperr.Validation("at least one variant required")
	}
	for _, v := range in.Variants {
		if strings.TrimSpace(v.Name) == "" {
			return apperr.Validation("variant name required")
		}
		if v.Price < 0 {
			return apperr.Validation("variant price must not be negative")
		}
		if v.Stock < 0 {
			return apperr.Validation("variant stock must not be negative")
		}
	}
	return nil
}
