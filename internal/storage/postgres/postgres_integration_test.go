//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("shop"),
		tcpostgres.WithUsername("shop"),
		tcpostgres.WithPassword("shop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(dsn))
	// Migrations are idempotent.
	require.NoError(t, postgres.Migrate(dsn))

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type env struct {
	products  *postgres.ProductRepository
	discounts *postgres.DiscountRepository
	orders    *postgres.OrderStore
	svc       *order.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	pool := setupPool(t)
	e := &env{
		products:  postgres.NewProductRepository(pool),
		discounts: postgres.NewDiscountRepository(pool),
		orders:    postgres.NewOrderStore(pool),
	}
	svc, err := order.NewService(e.orders, e.products, discount.NewRepoValidator(e.discounts), nil)
	require.NoError(t, err)
	e.svc = svc
	return e
}

func (e *env) seedProduct(t *testing.T, stock int) *catalog.Product {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &catalog.Product{
		ID:        "11111111-1111-1111-1111-111111111111",
		Title:     "Trail Runner",
		Slug:      "trail-runner",
		Category:  "shoes",
		Brand:     "Acme",
		ImageURLs: []string{"runner.jpg"},
		Variants: []catalog.Variant{
			{ID: "v-42", ProductID: "11111111-1111-1111-1111-111111111111", Name: "42", Price: 100, Stock: stock},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.products.Create(context.Background(), p))
	return p
}

func placeRequest(code string, qty int) order.PlaceRequest {
	return order.PlaceRequest{
		FullName:      "Jane Doe",
		Email:         "jane@example.com",
		PhoneNum:      "+15550100",
		AddressDetail: "1 Main St",
		Items:         []pricing.Item{{VariantID: "v-42", Quantity: qty}},
		DiscountCode:  code,
	}
}

func TestOrderStore_LastUnitRace(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, 1)
	ctx := context.Background()

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = e.svc.Place(ctx, placeRequest("", 1))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, rejected int
	for _, err := range errs {
		var stockErr *pricing.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &stockErr):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	vs, err := e.products.GetVariants(ctx, []string{"v-42"})
	require.NoError(t, err)
	assert.Equal(t, 0, vs["v-42"].Stock)
	assert.Equal(t, 1, vs["v-42"].Sold)
}

func TestOrderStore_DiscountRace(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, 10)
	ctx := context.Background()
	require.NoError(t, e.discounts.Create(ctx, &discount.Discount{
		ID: "d1", Code: "SALE5", Value: 5, UsageLimit: 1, CreatedAt: time.Now(),
	}))

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = e.svc.Place(ctx, placeRequest("SALE5", 1))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, exhausted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, discount.ErrExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exhausted)

	d, err := e.discounts.FindByCode(ctx, "SALE5")
	require.NoError(t, err)
	assert.Equal(t, 1, d.UsageCount)

	vs, err := e.products.GetVariants(ctx, []string{"v-42"})
	require.NoError(t, err)
	assert.Equal(t, 9, vs["v-42"].Stock)
}

func TestOrderStore_IdempotencyAndStatus(t *testing.T) {
	e := newEnv(t)
	e.seedProduct(t, 5)
	ctx := context.Background()

	req := placeRequest("", 2)
	req.IdempotencyKey = "abc-123"
	first, err := e.svc.Place(ctx, req)
	require.NoError(t, err)
	second, err := e.svc.Place(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	require.Len(t, second.Order.Lines, 1)
	assert.Equal(t, "Trail Runner - 42", second.Order.Lines[0].DisplayName)

	vs, err := e.products.GetVariants(ctx, []string{"v-42"})
	require.NoError(t, err)
	assert.Equal(t, 3, vs["v-42"].Stock)

	o, err := e.svc.UpdateStatus(ctx, first.Order.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)

	_, err = e.svc.UpdateStatus(ctx, first.Order.ID, order.StatusShipping)
	var trErr *order.InvalidStatusTransitionError
	require.ErrorAs(t, err, &trErr)

	orders, total, err := e.svc.List(ctx, order.ListFilter{Status: order.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, first.Order.ID, orders[0].ID)
}

func TestProductRepository_ListAndRatings(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, 3)
	ctx := context.Background()

	svc := catalog.NewService(e.products)
	second, err := svc.Create(ctx, catalog.ProductInput{
		Title:    "Trail Runner",
		Category: "shoes",
		Brand:    "Other",
		Variants: []catalog.VariantInput{{Name: "40", Price: 50, Stock: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "trail-runner-2", second.Slug)

	page, err := e.products.List(ctx, catalog.ListFilter{
		Category: "SHOES", SortBy: catalog.SortPriceAsc, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Products, 2)
	assert.Equal(t, second.ID, page.Products[0].ID)

	for _, score := range []int{4, 5} {
		_, err := svc.AddRating(ctx, p.ID, catalog.RatingInput{UserName: "bob", Score: score})
		require.NoError(t, err)
	}
	got, err := e.products.GetBySlug(ctx, "trail-runner")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Score.Count)
	assert.Equal(t, "4.5", got.Score.Average.String())
	assert.Len(t, got.Ratings, 2)

	brands, err := e.products.Brands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Other"}, brands)

	require.NoError(t, e.products.Delete(ctx, second.ID))
	_, err = e.products.GetByID(ctx, second.ID)
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestUserRepository(t *testing.T) {
	pool := setupPool(t)
	repo := postgres.NewUserRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	u := &auth.User{
		ID: "u1", Name: "Ann", Email: "ann@example.com", PhoneNum: "1",
		PasswordHash: "hash", Role: auth.RoleUser, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, u))
	dup := *u
	dup.ID = "u2"
	require.ErrorIs(t, repo.Create(ctx, &dup), auth.ErrEmailTaken)

	require.NoError(t, repo.SetBanned(ctx, "u1", true, now))
	got, err := repo.GetByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.True(t, got.Banned)
	assert.Empty(t, got.Addresses)

	require.ErrorIs(t, repo.UpdatePassword(ctx, "missing", "x", now), auth.ErrUserNotFound)
}

func TestProductRepository_UpdateDoesNotDeadlockWithCheckout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	const productID = "22222222-2222-2222-2222-222222222222"
	p := &catalog.Product{
		ID:    productID,
		Title: "Wool Socks",
		Slug:  "wool-socks",
		Variants: []catalog.Variant{
			{ID: "v-a", ProductID: productID, Name: "A", Price: 10, Stock: 1000},
			{ID: "v-b", ProductID: productID, Name: "B", Price: 10, Stock: 1000},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.products.Create(ctx, p))

	req := placeRequest("", 1)
	req.Items = []pricing.Item{{VariantID: "v-a", Quantity: 1}, {VariantID: "v-b", Quantity: 1}}

	const rounds = 20
	var g errgroup.Group
	for range rounds {
		g.Go(func() error {
			_, err := e.svc.Place(ctx, req)
			return err
		})
		g.Go(func() error {
			// Positions list v-b before v-a, the reverse of checkout's lock order.
			edit := *p
			edit.UpdatedAt = time.Now().UTC()
			edit.Variants = []catalog.Variant{
				{ID: "v-b", ProductID: productID, Name: "B", Price: 10, Stock: 1000},
				{ID: "v-a", ProductID: productID, Name: "A", Price: 10, Stock: 1000},
			}
			return e.products.Update(ctx, &edit)
		})
	}
	require.NoError(t, g.Wait())
}
