package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

func newService(t *testing.T) (*catalog.Service, *memory.Products) {
	t.Helper()
	repo := memory.New().Products()
	return catalog.NewService(repo), repo
}

func shirt(title string, price int64) catalog.ProductInput {
	return catalog.ProductInput{
		Title:    title,
		Category: "Tops",
		Brand:    "Acme",
		Variants: []catalog.VariantInput{{Name: "M", Price: price, Stock: 5}},
	}
}

func TestService_CreateAssignsUniqueSlug(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, shirt("Basic Tee", 100))
	require.NoError(t, err)
	second, err := svc.Create(ctx, shirt("basic tee", 120))
	require.NoError(t, err)

	assert.Equal(t, "basic-tee", first.Slug)
	assert.Equal(t, "basic-tee-2", second.Slug)
	require.Len(t, second.Variants, 1)
	assert.Equal(t, second.ID, second.Variants[0].ProductID)

	got, err := svc.GetBySlug(ctx, "BASIC-TEE-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   catalog.ProductInput
	}{
		{"blank title", shirt("  ", 100)},
		{"no variants", catalog.ProductInput{Title: "Tee"}},
		{"negative price", shirt("Tee", -1)},
		{"blank variant name", catalog.ProductInput{Title: "Tee", Variants: []catalog.VariantInput{{Price: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestService_UpdateKeepsSoldAndSlug(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, shirt("Hoodie", 300))
	require.NoError(t, err)
	kept := p.Variants[0]

	// Simulate sales recorded by checkout.
	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	stored.Variants[0].Sold = 7
	require.NoError(t, repo.Update(ctx, stored))

	updated, err := svc.Update(ctx, p.ID, catalog.ProductInput{
		Title: "Zip Hoodie",
		Variants: []catalog.VariantInput{
			{ID: kept.ID, Name: "M", Price: 350, Stock: 2},
			{Name: "L", Price: 350, Stock: 4},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hoodie", updated.Slug)
	require.Len(t, updated.Variants, 2)
	assert.Equal(t, 7, updated.Variants[0].Sold)
	assert.Equal(t, int64(350), updated.Variants[0].Price)
	assert.NotEmpty(t, updated.Variants[1].ID)

	_, err = svc.Update(ctx, p.ID, catalog.ProductInput{
		Title:    "Zip Hoodie",
		Variants: []catalog.VariantInput{{ID: "foreign", Name: "M", Price: 1}},
	})
	var nf *catalog.VariantNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestService_UpdateReplacesWholeProduct(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, shirt("Parka", 900))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, p.ID, catalog.ProductInput{
		Title:    "Parka",
		Brand:    "Zeta",
		Variants: []catalog.VariantInput{{Name: "L", Price: 950, Stock: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Zeta", updated.Brand)
	assert.Empty(t, updated.Category, "omitted fields are cleared")

	brands, err := svc.Brands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Zeta"}, brands)
	categories, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestService_ListDefaultsAndValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		_, err := svc.Create(ctx, shirt(title, 10))
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, catalog.ListFilter{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Products, 2)

	_, err = svc.List(ctx, catalog.ListFilter{SortBy: "random"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestService_AddRating(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, shirt("Cap", 50))
	require.NoError(t, err)

	_, err = svc.AddRating(ctx, p.ID, catalog.RatingInput{UserName: "ann", Score: 6})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.AddRating(ctx, "missing", catalog.RatingInput{UserName: "ann", Score: 4})
	require.ErrorIs(t, err, catalog.ErrProductNotFound)

	for _, score := range []int{4, 5} {
		_, err := svc.AddRating(ctx, p.ID, catalog.RatingInput{UserName: "ann", Score: score})
		require.NoError(t, err)
	}
	got, err := svc.GetBySlug(ctx, p.Slug)
	require.NoError(t, err)
	assert.Len(t, got.Ratings, 2)
	assert.Equal(t, 2, got.Score.Count)
	assert.Equal(t, "4.5", got.Score.Average.String())
}

func TestService_BrandsAndCategories(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	in := shirt("Tee", 10)
	_, err := svc.Create(ctx, in)
	require.NoError(t, err)
	in.Brand = "Zeta"
	in.Category = "Bottoms"
	_, err = svc.Create(ctx, in)
	require.NoError(t, err)

	brands, err := svc.Brands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Zeta"}, brands)

	categories, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bottoms", "Tops"}, categories)
}
