package order

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

var (
	// ErrNotFound is returned when an order id is unknown.
	ErrNotFound = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	// ErrIdempotencyKeyConflict is returned by a CheckoutTx when another
	// transaction committed an order with the same idempotency key first.
	ErrIdempotencyKeyConflict = apperr.New(apperr.KindConflict, "conflict", "idempotency key already used")
)

// Order is a placed order. Only Status changes after creation.
type Order struct {
	ID             string
	UserID         string
	FullName       string
	Email          string
	PhoneNum       string
	AddressDetail  string
	Lines          []Line
	ItemsTotal     int64
	DiscountCode   string
	DiscountAmount int64
	TotalPrice     int64
	Status         Status
	// IdempotencyKey is the caller-scoped digest of the client key, and
	// RequestHash fingerprints the payload it was first used with.
	IdempotencyKey string
	RequestHash    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Line snapshots one purchased variant at order time. UnitPrice is decoupled
// from the live variant price.
type Line struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	DisplayName string `json:"displayName"`
	ImageURL    string `json:"imageUrl"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

// Total returns quantity times unit price.
func (l Line) Total() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// ListFilter pages the admin order listing. Page is 1-based; an empty
// Status matches all orders.
type ListFilter struct {
	Status   Status
	Page     int
	PageSize int
}

// CheckoutTx is the set of operations available inside the commit
// transaction. Reads lock the rows they return until the transaction ends.
type CheckoutTx interface {
	// FindByIdempotencyKey returns ErrNotFound when no order carries key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// LockVariants returns the requested variants keyed by id; unknown ids
	// are absent from the result.
	LockVariants(ctx context.Context, ids []string) (map[string]catalog.VariantInfo, error)
	// LockDiscount returns discount.ErrNotFound for unknown codes.
	LockDiscount(ctx context.Context, code string) (*discount.Discount, error)
	// DecrementStock lowers stock and raises the sold counter, failing with
	// *pricing.InsufficientStockError when stock would go negative.
	DecrementStock(ctx context.Context, variantID string, quantity int) error
	// RedeemDiscount increments usage, failing with discount.ErrExhausted
	// when the limit is already reached.
	RedeemDiscount(ctx context.Context, discountID string) error
	// Insert persists the order. It returns ErrIdempotencyKeyConflict when
	// the key is taken.
	Insert(ctx context.Context, o *Order) error
}

// Store persists orders. Checkout runs fn in a single transaction that
// commits only when fn returns nil.
type Store interface {
	Checkout(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	// UpdateStatus locks the order, lets apply mutate it and persists the
	// new status. Nothing is written when apply fails.
	UpdateStatus(ctx context.Context, id string, apply func(o *Order) error) (*Order, error)
}

// Publisher announces committed order changes.
type Publisher interface {
	OrderPlaced(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, o *Order, from Status) error
}

type nopPublisher struct{}

func (nopPublisher) OrderPlaced(context.Context, *Order) error           { return nil }
func (nopPublisher) StatusChanged(context.Context, *Order, Status) error { return nil }
