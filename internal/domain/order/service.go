package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

const (
	instrumentationName = "github.com/xenking/storefront-checkout/internal/domain/order"

	defaultPageSize = 20
	maxPageSize     = 100
	maxFieldLength  = 500
)

// PreviewRequest holds the input for a price preview.
type PreviewRequest struct {
	Items        []pricing.Item
	DiscountCode string
}

// PlaceRequest holds the input for placing an order. UserID and
// IdempotencyKey are optional.
type PlaceRequest struct {
	FullName       string
	Email          string
	PhoneNum       string
	AddressDetail  string
	Items          []pricing.Item
	DiscountCode   string
	UserID         string
	IdempotencyKey string
}

func (r *PlaceRequest) validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"fullName", &r.FullName},
		{"email", &r.Email},
		{"phoneNum", &r.PhoneNum},
		{"addressDetail", &r.AddressDetail},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return apperr.Validation(f.name + " required")
		}
		if len(*f.value) > maxFieldLength {
			return apperr.Validation(f.name + " is too long")
		}
	}
	if !strings.Contains(r.Email, "@") {
		return apperr.Validation("email is invalid")
	}
	return nil
}

// PlaceResult is the outcome of Place. Replayed is set when the idempotency
// key matched an existing order and nothing was written.
type PlaceResult struct {
	Order    *Order
	Replayed bool
}

// Service implements checkout and order administration.
type Service struct {
	store     Store
	variants  catalog.VariantReader
	discounts discount.Validator
	events    Publisher
	tracer    trace.Tracer
	metrics   *serviceMetrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the publisher for order events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithTracerProvider sets the tracer provider used for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an order Service. Metrics are registered on mp; pass nil
// to disable them.
func NewService(
	store Store,
	variants catalog.VariantReader,
	discounts discount.Validator,
	mp metric.MeterProvider,
	opts ...Option,
) (*Service, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	m, err := newServiceMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	s := &Service{
		store:     store,
		variants:  variants,
		discounts: discounts,
		events:    nopPublisher{},
		tracer:    tracenoop.NewTracerProvider().Tracer(instrumentationName),
		metrics:   m,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Preview prices a cart against current catalog state without locking or
// writing anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (_ *pricing.Quote, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Preview")
	defer func() { endSpan(span, rerr) }()

	items, err := pricing.NormalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	variants, err := s.variants.GetVariants(ctx, pricing.VariantIDs(items))
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}

	code := strings.TrimSpace(req.DiscountCode)
	var d *discount.Discount
	if code != "" {
		if d, _, err = s.discounts.Check(ctx, code); err != nil {
			return nil, errors.Wrap(err, "check discount")
		}
	}

	return pricing.Calculate(items, variants, code, d)
}

// Place validates the request and commits the order in one store
// transaction: stock is decremented, the discount is redeemed and the order
// is inserted as PENDING, or nothing is written.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (_ *PlaceResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Place")
	defer func() { endSpan(span, rerr) }()
	defer func() {
		if rerr != nil {
			s.metrics.rejected(ctx, rerr)
		}
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}
	items, err := pricing.NormalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	var code string
	if raw := strings.TrimSpace(req.DiscountCode); raw != "" {
		if code, err = discount.NormalizeCode(raw); err != nil {
			return nil, discount.ErrNotFound
		}
	}

	var idem idempotency
	if req.IdempotencyKey != "" {
		idem = idempotency{
			key:  storedIdempotencyKey(req),
			hash: requestHash(req, items, code),
		}
	}

	res, err := s.checkout(ctx, req, items, code, idem)
	if errors.Is(err, ErrIdempotencyKeyConflict) {
		// A concurrent request with the same key committed first; the retry
		// finds and replays it.
		res, err = s.checkout(ctx, req, items, code, idem)
	}
	if err != nil {
		return nil, err
	}

	o := res.Order
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	if res.Replayed {
		lg.Info("Order replayed", zap.String("idempotency_key", req.IdempotencyKey))
		return res, nil
	}

	s.metrics.placed(ctx, o)
	lg.Info("Order placed",
		zap.Int64("total_price", o.TotalPrice),
		zap.Int("lines", len(o.Lines)),
		zap.String("discount_code", o.DiscountCode),
	)
	if err := s.events.OrderPlaced(ctx, o); err != nil {
		lg.Warn("Publish order placed", zap.Error(err))
	}
	return res, nil
}

// idempotency is the caller-scoped key and request fingerprint stored with
// the order. Both are empty when the client sent no key.
type idempotency struct {
	key  string
	hash string
}

func (s *Service) checkout(ctx context.Context, req PlaceRequest, items []pricing.Item, code string, idem idempotency) (*PlaceResult, error) {
	var res *PlaceResult
	err := s.store.Checkout(ctx, func(ctx context.Context, tx CheckoutTx) error {
		if idem.key != "" {
			existing, err := tx.FindByIdempotencyKey(ctx, idem.key)
			switch {
			case err == nil:
				if existing.RequestHash != idem.hash {
					return ErrIdempotencyKeyReused
				}
				res = &PlaceResult{Order: existing, Replayed: true}
				return nil
			case !errors.Is(err, ErrNotFound):
				return errors.Wrap(err, "find by idempotency key")
			}
		}

		variants, err := tx.LockVariants(ctx, pricing.VariantIDs(items))
		if err != nil {
			return errors.Wrap(err, "lock variants")
		}

		var d *discount.Discount
		if code != "" {
			d, err = tx.LockDiscount(ctx, code)
			if err != nil && !errors.Is(err, discount.ErrNotFound) {
				return errors.Wrap(err, "lock discount")
			}
		}

		quote, err := pricing.Calculate(items, variants, code, d)
		if err != nil {
			return err
		}

		for _, l := range quote.Lines {
			if err := tx.DecrementStock(ctx, l.VariantID, l.Quantity); err != nil {
				return errors.Wrapf(err, "decrement stock of %s", l.VariantID)
			}
		}
		if d != nil {
			if err := tx.RedeemDiscount(ctx, d.ID); err != nil {
				return errors.Wrap(err, "redeem discount")
			}
		}

		o := newOrder(req, quote, idem, s.now().UTC())
		if err := tx.Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		res = &PlaceResult{Order: o}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func newOrder(req PlaceRequest, q *pricing.Quote, idem idempotency, now time.Time) *Order {
	lines := make([]Line, len(q.Lines))
	for i, l := range q.Lines {
		lines[i] = Line{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			DisplayName: l.ProductTitle + " - " + l.VariantName,
			ImageURL:    l.ImageURL,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
	}
	return &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		FullName:       req.FullName,
		Email:          req.Email,
		PhoneNum:       req.PhoneNum,
		AddressDetail:  req.AddressDetail,
		Lines:          lines,
		ItemsTotal:     q.ItemsTotal,
		DiscountCode:   q.DiscountCode,
		DiscountAmount: q.DiscountAmount,
		TotalPrice:     q.TotalPrice,
		Status:         StatusPending,
		IdempotencyKey: idem.key,
		RequestHash:    idem.hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// UpdateStatus moves an order to a new status if the transition is allowed.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.status", string(to))),
	)
	defer func() { endSpan(span, rerr) }()

	if !to.Valid() {
		return nil, apperr.Validation("unknown order status " + string(to))
	}

	var from Status
	o, err := s.store.UpdateStatus(ctx, id, func(o *Order) error {
		if err := Transition(o.Status, to); err != nil {
			return err
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.transitioned(ctx, from, to)
	lg := zctx.From(ctx)
	lg.Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if err := s.events.StatusChanged(ctx, o, from); err != nil {
		lg.Warn("Publish status change", zap.Error(err))
	}
	return o, nil
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// List returns a page of orders, newest first, and the total match count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("unknown order status " + string(f.Status))
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	f.PageSize = min(f.PageSize, maxPageSize)
	return s.store.List(ctx, f)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		kind, reason := apperr.Classify(err)
		span.SetAttributes(attribute.String("error.reason", reason))
		if kind == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
