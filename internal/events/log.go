package events

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var _ order.Publisher = LogPublisher{}

// LogPublisher writes events to the request logger. It is used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Order event",
		zap.String("type", TypeOrderPlaced),
		zap.String("order_id", o.ID),
		zap.Int64("total_price", o.TotalPrice),
		zap.Int("lines", len(o.Lines)),
	)
	return nil
}

func (LogPublisher) StatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	zctx.From(ctx).Info("Order event",
		zap.String("type", TypeStatusChanged),
		zap.String("order_id", o.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", o.Status),
	)
	return nil
}
