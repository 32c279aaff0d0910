package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

type serviceMetrics struct {
	ordersPlaced        metric.Int64Counter
	checkoutRejections  metric.Int64Counter
	discountRedemptions metric.Int64Counter
	statusTransitions   metric.Int64Counter
	orderTotal          metric.Int64Histogram
}

func newServiceMetrics(m metric.Meter) (*serviceMetrics, error) {
	var (
		sm  serviceMetrics
		err error
	)
	if sm.ordersPlaced, err = m.Int64Counter("shop.orders.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders placed")
	}
	if sm.checkoutRejections, err = m.Int64Counter("shop.checkout.rejections",
		metric.WithDescription("Checkout attempts rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout rejections")
	}
	if sm.discountRedemptions, err = m.Int64Counter("shop.discounts.redeemed",
		metric.WithDescription("Discount codes redeemed by committed orders"),
	); err != nil {
		return nil, errors.Wrap(err, "discount redemptions")
	}
	if sm.statusTransitions, err = m.Int64Counter("shop.orders.status_transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "status transitions")
	}
	if sm.orderTotal, err = m.Int64Histogram("shop.orders.total_price",
		metric.WithDescription("Total price of committed orders in the smallest currency unit"),
	); err != nil {
		return nil, errors.Wrap(err, "order total")
	}
	return &sm, nil
}

func (m *serviceMetrics) placed(ctx context.Context, o *Order) {
	m.ordersPlaced.Add(ctx, 1)
	m.orderTotal.Record(ctx, o.TotalPrice)
	if o.DiscountCode != "" {
		m.discountRedemptions.Add(ctx, 1)
	}
}

func (m *serviceMetrics) rejected(ctx context.Context, err error) {
	_, reason := apperr.Classify(err)
	m.checkoutRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *serviceMetrics) transitioned(ctx context.Context, from, to Status) {
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}
