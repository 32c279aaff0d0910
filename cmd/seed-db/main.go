// Command seed-db fills a database with a demo catalog, an admin account and
// a few discount codes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		cfg         seedConfig
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.Products, "products", 24, "number of fake products to create")
	flag.Uint64Var(&cfg.Seed, "seed", 42, "random seed for the fake catalog")
	flag.StringVar(&cfg.AdminEmail, "admin-email", "admin@shop.local", "email of the admin account")
	flag.StringVar(&cfg.AdminPassword, "admin-password", "", "password of the admin account (or SHOP_SEED_ADMIN_PASSWORD env)")
	flag.IntVar(&cfg.BcryptCost, "bcrypt-cost", 10, "bcrypt cost for the admin password")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = os.Getenv("SHOP_SEED_ADMIN_PASSWORD")
	}
	if cfg.AdminPassword == "" {
		slog.Error("admin password is required: set --admin-password or SHOP_SEED_ADMIN_PASSWORD")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, cfg seedConfig) error {
	slog.Info("running migrations")
	if err := postgres.Migrate(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return seed(ctx, seeder{
		catalog:   catalog.NewService(postgres.NewProductRepository(pool)),
		discounts: discount.NewService(postgres.NewDiscountRepository(pool)),
		users:     postgres.NewUserRepository(pool),
	}, cfg)
}
