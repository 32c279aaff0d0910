// Package events publishes order lifecycle events.
package events

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Event types.
const (
	TypeOrderPlaced   = "order.placed"
	TypeStatusChanged = "order.status_changed"
)

// Envelope is the decoded form of a published event. Line items are only
// present on order.placed.
type Envelope struct {
	Type         string
	OrderID      string
	UserID       string
	Status       string
	PrevStatus   string
	TotalPrice   int64
	DiscountCode string
	Lines        []EnvelopeLine
	OccurredAt   time.Time
}

// EnvelopeLine is a purchased variant within an order.placed event.
type EnvelopeLine struct {
	VariantID string
	Quantity  int
	UnitPrice int64
}

func encodePlaced(o *order.Order, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	writeHeader(&e, TypeOrderPlaced, o, at)
	e.FieldStart("totalPrice")
	e.Int64(o.TotalPrice)
	if o.DiscountCode != "" {
		e.FieldStart("discountCode")
		e.Str(o.DiscountCode)
	}
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("variantId")
		e.Str(l.VariantID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		e.Int64(l.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func encodeStatusChanged(o *order.Order, from order.Status, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	writeHeader(&e, TypeStatusChanged, o, at)
	e.FieldStart("prevStatus")
	e.Str(string(from))
	e.ObjEnd()
	return e.Bytes()
}

func writeHeader(e *jx.Encoder, typ string, o *order.Order, at time.Time) {
	e.FieldStart("type")
	e.Str(typ)
	e.FieldStart("orderId")
	e.Str(o.ID)
	if o.UserID != "" {
		e.FieldStart("userId")
		e.Str(o.UserID)
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("occurredAt")
	e.Str(at.UTC().Format(time.RFC3339Nano))
}

// Decode parses an event payload. Unknown fields are skipped so consumers
// survive additive changes.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			env.Type, err = d.Str()
		case "orderId":
			env.OrderID, err = d.Str()
		case "userId":
			env.UserID, err = d.Str()
		case "status":
			env.Status, err = d.Str()
		case "prevStatus":
			env.PrevStatus, err = d.Str()
		case "totalPrice":
			env.TotalPrice, err = d.Int64()
		case "discountCode":
			env.DiscountCode, err = d.Str()
		case "occurredAt":
			var s string
			if s, err = d.Str(); err == nil {
				env.OccurredAt, err = time.Parse(time.RFC3339Nano, s)
			}
		case "lines":
			err = d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				env.Lines = append(env.Lines, l)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	return &env, nil
}

func decodeLine(d *jx.Decoder) (EnvelopeLine, error) {
	var l EnvelopeLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "variantId":
			l.VariantID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		case "unitPrice":
			l.UnitPrice, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}
