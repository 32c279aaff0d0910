package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

const (
	discountColumns = `id, code, value, usage_count, usage_limit, created_at`

	getDiscountByCodeSQL  = `SELECT ` + discountColumns + ` FROM discounts WHERE code = $1`
	lockDiscountByCodeSQL = getDiscountByCodeSQL + ` FOR UPDATE`
	listDiscountsSQL      = `SELECT ` + discountColumns + ` FROM discounts ORDER BY created_at DESC, id`

	insertDiscountSQL = `INSERT INTO discounts (id, code, value, usage_count, usage_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// Codes that already exist are skipped, so imports can be re-run.
	importDiscountSQL = `INSERT INTO discounts (id, code, value, usage_count, usage_limit, created_at)
		VALUES ($1, $2, $3, 0, $4, $5) ON CONFLICT (code) DO NOTHING`

	deleteDiscountSQL = `DELETE FROM discounts WHERE id = $1`

	redeemDiscountSQL = `UPDATE discounts SET usage_count = usage_count + 1
		WHERE id = $1 AND usage_count < usage_limit`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a normalized code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	return findDiscount(ctx, r.pool, getDiscountByCodeSQL, code)
}

func findDiscount(ctx context.Context, q querier, query, code string) (*discount.Discount, error) {
	rows, err := q.Query(ctx, query, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find discount %q", code)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find discount %q", code)
	}
	return &d, nil
}

// List returns all discounts, newest first.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Discount, error) {
	rows, err := r.pool.Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	return pgx.CollectRows(rows, scanDiscount)
}

// Create inserts a discount.
func (r *DiscountRepository) Create(ctx context.Context, d *discount.Discount) error {
	_, err := r.pool.Exec(ctx, insertDiscountSQL,
		d.ID, d.Code, d.Value, d.UsageCount, d.UsageLimit, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "discounts_code_key") {
			return discount.ErrDuplicateCode
		}
		return errors.Wrap(err, "insert discount")
	}
	return nil
}

// Delete removes a discount by id.
func (r *DiscountRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete discount %q", id)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

// Import inserts a batch of discounts in one round trip, skipping codes
// that already exist. It returns the number of rows inserted.
func (r *DiscountRepository) Import(ctx context.Context, batch []discount.Discount) (int64, error) {
	b := &pgx.Batch{}
	for _, d := range batch {
		b.Queue(importDiscountSQL, d.ID, d.Code, d.Value, d.UsageLimit, d.CreatedAt)
	}

	br := r.pool.SendBatch(ctx, b)
	defer func() { _ = br.Close() }()

	var inserted int64
	for range batch {
		tag, err := br.Exec()
		if err != nil {
			return inserted, errors.Wrap(err, "import discount")
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var d discount.Discount
	err := row.Scan(&d.ID, &d.Code, &d.Value, &d.UsageCount, &d.UsageLimit, &d.CreatedAt)
	return d, err
}
