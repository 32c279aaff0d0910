// Command discount-import loads discount codes from gzip-compressed partner
// feeds, one code per line, into the discounts table.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

const batchSize = 1000

type options struct {
	databaseURL string
	files       []string
	quorum      int
	value       int64
	usageLimit  int
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.quorum, "quorum", 1, "import codes listed in at least this many files")
	flag.Int64Var(&opts.value, "value", 500, "flat discount value in the smallest currency unit")
	flag.IntVar(&opts.usageLimit, "usage-limit", 1, "redemptions allowed per code")
	flag.Parse()
	opts.files = flag.Args()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if err := opts.validate(); err != nil {
		slog.Error("invalid arguments", slog.String("error", err.Error()))
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount import completed successfully")
}

func (o options) validate() error {
	switch {
	case o.databaseURL == "":
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	case len(o.files) == 0:
		return errors.New("at least one .gz file is required")
	case len(o.files) > maxFiles:
		return errors.Errorf("at most %d files are supported", maxFiles)
	case o.quorum < 1 || o.quorum > len(o.files):
		return errors.Errorf("quorum must be between 1 and %d", len(o.files))
	case o.value <= 0:
		return errors.New("value must be positive")
	case o.usageLimit < 1:
		return errors.New("usage limit must be at least 1")
	}
	return nil
}

func run(ctx context.Context, opts options) error {
	for _, f := range opts.files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	codes, err := collectCodes(ctx, opts.files, opts.quorum)
	if err != nil {
		return err
	}
	slog.Info("codes selected", slog.Int("count", len(codes)), slog.Int("quorum", opts.quorum))
	if len(codes) == 0 {
		slog.Info("no codes to import")
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewDiscountRepository(pool)
	inserted, err := importCodes(ctx, repo, codes, opts.value, opts.usageLimit, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "import discounts")
	}

	slog.Info("import finished",
		slog.Int64("inserted", inserted),
		slog.Int64("skipped_existing", int64(len(codes))-inserted),
	)
	return nil
}

// importer is implemented by postgres.DiscountRepository.
type importer interface {
	Import(ctx context.Context, batch []discount.Discount) (int64, error)
}

// importCodes writes codes in batches and returns the number of new rows.
func importCodes(ctx context.Context, repo importer, codes []string, value int64, usageLimit int, now time.Time) (int64, error) {
	var inserted int64
	batch := make([]discount.Discount, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.Import(ctx, batch)
		inserted += n
		if err != nil {
			return err
		}
		slog.Info("write progress", slog.Int64("inserted", inserted))
		batch = batch[:0]
		return nil
	}

	for _, code := range codes {
		batch = append(batch, discount.Discount{
			ID:         uuid.NewString(),
			Code:       code,
			Value:      value,
			UsageLimit: usageLimit,
			CreatedAt:  now,
		})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	return inserted, flush()
}
