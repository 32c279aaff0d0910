package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

type seedConfig struct {
	Products      int
	Seed          uint64
	AdminEmail    string
	AdminPassword string
	BcryptCost    int
}

type seeder struct {
	catalog   *catalog.Service
	discounts *discount.Service
	users     auth.UserRepository
}

// demoDiscounts are created on every seed; existing codes are left alone.
// SALE5 has a single redemption so the last-use race is easy to reproduce.
var demoDiscounts = []discount.CreateRequest{
	{Code: "SALE5", Value: 500, UsageLimit: 1},
	{Code: "WELCOME10", Value: 1000, UsageLimit: 100},
	{Code: "FREESHIP", Value: 300, UsageLimit: 1000},
}

var sizes = []string{"S", "M", "L", "XL"}

func seed(ctx context.Context, s seeder, cfg seedConfig) error {
	if err := seedAdmin(ctx, s.users, cfg); err != nil {
		return errors.Wrap(err, "seed admin")
	}
	if err := seedDiscounts(ctx, s.discounts); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	if err := seedProducts(ctx, s.catalog, cfg.Products, cfg.Seed); err != nil {
		return errors.Wrap(err, "seed products")
	}
	return nil
}

func seedAdmin(ctx context.Context, users auth.UserRepository, cfg seedConfig) error {
	hash, err := auth.HashPassword(cfg.AdminPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = users.Create(ctx, &auth.User{
		ID:           uuid.NewString(),
		Name:         "Administrator",
		Email:        auth.NormalizeEmail(cfg.AdminEmail),
		PhoneNum:     "-",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		slog.Info("admin already exists", slog.String("email", cfg.AdminEmail))
		return nil
	case err != nil:
		return err
	}
	slog.Info("created admin", slog.String("email", cfg.AdminEmail))
	return nil
}

func seedDiscounts(ctx context.Context, discounts *discount.Service) error {
	for _, req := range demoDiscounts {
		_, err := discounts.Create(ctx, req)
		switch {
		case errors.Is(err, discount.ErrDuplicateCode):
			slog.Info("discount already exists", slog.String("code", req.Code))
		case err != nil:
			return errors.Wrapf(err, "create discount %s", req.Code)
		default:
			slog.Info("created discount",
				slog.String("code", req.Code),
				slog.Int64("value", req.Value),
				slog.Int("usage_limit", req.UsageLimit),
			)
		}
	}
	return nil
}

func seedProducts(ctx context.Context, svc *catalog.Service, n int, seed uint64) error {
	f := gofakeit.New(seed)
	for i := range n {
		in := fakeProduct(f)
		p, err := svc.Create(ctx, in)
		if err != nil {
			return errors.Wrapf(err, "create product %d", i+1)
		}
		slog.Info("created product",
			slog.String("slug", p.Slug),
			slog.Int("variants", len(p.Variants)),
		)
	}
	return nil
}

func fakeProduct(f *gofakeit.Faker) catalog.ProductInput {
	title := f.ProductName()
	base := int64(f.Price(5, 200) * 100)

	variants := make([]catalog.VariantInput, f.Number(1, len(sizes)))
	for i := range variants {
		variants[i] = catalog.VariantInput{
			Name:  sizes[i],
			Price: base + int64(i)*250,
			Stock: f.Number(0, 50),
		}
	}

	return catalog.ProductInput{
		Title:       title,
		Description: f.ProductFeature() + ". " + f.Sentence(12),
		Category:    f.ProductCategory(),
		Brand:       f.Company(),
		ImageURLs: []string{
			fmt.Sprintf("https://picsum.photos/seed/%d/600/600", f.Number(1, 1_000_000)),
		},
		Variants: variants,
	}
}
