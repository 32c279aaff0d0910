package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

const (
	orderColumns = `id, user_id, full_name, email, phone_num, address_detail, lines, items_total,
		discount_code, discount_amount, total_price, status, idempotency_key, request_hash, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderSQL                 = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	lockOrderSQL                = getOrderSQL + ` FOR UPDATE`
	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`
	updateOrderStatusSQL        = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	orderStatusFilter = `WHERE ($1::text = '' OR status = $1::text)`
	countOrdersSQL    = `SELECT count(*) FROM orders ` + orderStatusFilter
	listOrdersSQL     = `SELECT ` + orderColumns + ` FROM orders ` + orderStatusFilter + `
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	// The stock guard makes the decrement safe even without the row lock.
	decrementStockSQL = `UPDATE variants SET stock = stock - $2, sold = sold + $2
		WHERE id = $1 AND stock >= $2`
	variantStockSQL = `SELECT stock FROM variants WHERE id = $1`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Checkout runs fn inside a READ COMMITTED transaction. Rows read through
// the CheckoutTx are locked with SELECT ... FOR UPDATE; variants are locked
// in id order so concurrent checkouts cannot deadlock.
func (s *OrderStore) Checkout(ctx context.Context, fn func(ctx context.Context, tx order.CheckoutTx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &checkoutTx{tx: tx})
	})
}

// Get returns an order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

func getOrder(ctx context.Context, q querier, query, arg string) (*order.Order, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return &o, nil
}

// List returns a page of orders, newest first.
func (s *OrderStore) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	status := string(f.Status)

	var total int
	if err := s.pool.QueryRow(ctx, countOrdersSQL, status).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	offset := max(f.Page-1, 0) * f.PageSize
	rows, err := s.pool.Query(ctx, listOrdersSQL, status, f.PageSize, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

// UpdateStatus locks the order row, applies the change and writes it back.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, apply func(o *order.Order) error) (*order.Order, error) {
	var updated *order.Order
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := getOrder(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}
		if err := apply(o); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateOrderStatusSQL, o.ID, string(o.Status), o.UpdatedAt); err != nil {
			return errors.Wrap(err, "update order status")
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type checkoutTx struct {
	tx pgx.Tx
}

var _ order.CheckoutTx = (*checkoutTx)(nil)

func (c *checkoutTx) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return getOrder(ctx, c.tx, getOrderByIdempotencyKeySQL, key)
}

func (c *checkoutTx) LockVariants(ctx context.Context, ids []string) (map[string]catalog.VariantInfo, error) {
	return queryVariantInfos(ctx, c.tx, lockVariantsSQL, ids)
}

func (c *checkoutTx) LockDiscount(ctx context.Context, code string) (*discount.Discount, error) {
	return findDiscount(ctx, c.tx, lockDiscountByCodeSQL, code)
}

func (c *checkoutTx) DecrementStock(ctx context.Context, variantID string, quantity int) error {
	tag, err := c.tx.Exec(ctx, decrementStockSQL, variantID, quantity)
	if err != nil {
		return errors.Wrap(err, "decrement stock")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var stock int
	if err := c.tx.QueryRow(ctx, variantStockSQL, variantID).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &catalog.VariantNotFoundError{VariantID: variantID}
		}
		return errors.Wrap(err, "read stock")
	}
	return &pricing.InsufficientStockError{VariantID: variantID, Requested: quantity, Available: stock}
}

func (c *checkoutTx) RedeemDiscount(ctx context.Context, discountID string) error {
	tag, err := c.tx.Exec(ctx, redeemDiscountSQL, discountID)
	if err != nil {
		return errors.Wrap(err, "redeem discount")
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrExhausted
	}
	return nil
}

func (c *checkoutTx) Insert(ctx context.Context, o *order.Order) error {
	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	_, err := c.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.FullName, o.Email, o.PhoneNum, o.AddressDetail, o.Lines, o.ItemsTotal,
		o.DiscountCode, o.DiscountAmount, o.TotalPrice, string(o.Status), key, o.RequestHash, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_idempotency_key_key") {
			return order.ErrIdempotencyKeyConflict
		}
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
		key    *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.FullName, &o.Email, &o.PhoneNum, &o.AddressDetail, &o.Lines, &o.ItemsTotal,
		&o.DiscountCode, &o.DiscountAmount, &o.TotalPrice, &status, &key, &o.RequestHash, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	if key != nil {
		o.IdempotencyKey = *key
	}
	return o, err
}
