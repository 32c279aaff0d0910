package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// IdempotencyKeyHeader lets clients retry order creation safely.
const IdempotencyKeyHeader = "Idempotency-Key"

type itemRequest struct {
	VariantID string `json:"variantId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=1000"`
}

func (req *itemRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "variantId":
		return true, decodeStr(d, &req.VariantID)
	case "quantity":
		return true, decodeInt(d, &req.Quantity)
	}
	return false, nil
}

type calculateRequest struct {
	Items        []itemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	DiscountCode string        `json:"discountCode" validate:"max=64"`
}

func (req *calculateRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "items":
		return true, decodeArr(d, &req.Items)
	case "discountCode":
		return true, decodeStr(d, &req.DiscountCode)
	}
	return false, nil
}

type createOrderRequest struct {
	FullName      string        `json:"fullName" validate:"required,max=200"`
	Email         string        `json:"email" validate:"required,email,max=254"`
	PhoneNum      string        `json:"phoneNum" validate:"required,max=32"`
	AddressDetail string        `json:"addressDetail" validate:"required,max=500"`
	Items         []itemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	DiscountCode  string        `json:"discountCode" validate:"max=64"`
}

func (req *createOrderRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "fullName":
		return true, decodeStr(d, &req.FullName)
	case "email":
		return true, decodeStr(d, &req.Email)
	case "phoneNum":
		return true, decodeStr(d, &req.PhoneNum)
	case "addressDetail":
		return true, decodeStr(d, &req.AddressDetail)
	case "items":
		return true, decodeArr(d, &req.Items)
	case "discountCode":
		return true, decodeStr(d, &req.DiscountCode)
	}
	return false, nil
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING SHIPPING COMPLETED CANCELLED"`
}

func (req *updateStatusRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	if key == "status" {
		return true, decodeStr(d, &req.Status)
	}
	return false, nil
}

func toItems(items []itemRequest) []pricing.Item {
	out := make([]pricing.Item, len(items))
	for i, it := range items {
		out[i] = pricing.Item{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	return out
}

// CalculateOrder prices a cart without reserving anything.
func (h *Handler) CalculateOrder(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopePreview)
		return
	}

	q, err := h.orders.Preview(r.Context(), order.PreviewRequest{
		Items:        toItems(req.Items),
		DiscountCode: req.DiscountCode,
	})
	if err != nil {
		fail(w, r, err, scopePreview)
		return
	}

	var e jx.Encoder
	encodeQuote(&e, q)
	writeJSON(w, http.StatusOK, &e)
}

// CreateOrder places an order. A repeated Idempotency-Key returns the
// original order with 200 instead of 201.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key != "" && !httpmiddleware.PrintableASCII(key, 128) {
		fail(w, r, apperr.Validation(IdempotencyKeyHeader+" must be at most 128 printable ASCII characters"), scopeCheckout)
		return
	}

	var req createOrderRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeCheckout)
		return
	}

	res, err := h.orders.Place(r.Context(), order.PlaceRequest{
		FullName:       req.FullName,
		Email:          req.Email,
		PhoneNum:       req.PhoneNum,
		AddressDetail:  req.AddressDetail,
		Items:          toItems(req.Items),
		DiscountCode:   req.DiscountCode,
		UserID:         principal(r).UserID,
		IdempotencyKey: key,
	})
	if err != nil {
		fail(w, r, err, scopeCheckout)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	var e jx.Encoder
	encodeOrder(&e, res.Order)
	writeJSON(w, status, &e)
}

// ListOrders returns a page of orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	f := order.ListFilter{
		Status:   order.Status(r.URL.Query().Get("status")),
		Page:     page,
		PageSize: pageSize,
	}
	orders, total, err := h.orders.List(r.Context(), f)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}

	page, pageSize = normalizePage(page, pageSize)
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range orders {
		encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	encodePage(&e, total, page, pageSize)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetOrder returns a single order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

// UpdateOrderStatus moves an order through the status machine.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), order.Status(req.Status))
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, min(pageSize, 100)
}

func encodeQuote(e *jx.Encoder, q *pricing.Quote) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range q.Lines {
		e.ObjStart()
		e.FieldStart("variantId")
		e.Str(l.VariantID)
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("title")
		e.Str(l.ProductTitle)
		e.FieldStart("variantName")
		e.Str(l.VariantName)
		e.FieldStart("displayName")
		e.Str(l.ProductTitle + " - " + l.VariantName)
		e.FieldStart("imageUrl")
		e.Str(l.ImageURL)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		e.Int64(l.UnitPrice)
		e.FieldStart("lineTotal")
		e.Int64(l.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("itemsTotal")
	e.Int64(q.ItemsTotal)
	if q.DiscountCode != "" {
		e.FieldStart("discountCode")
		e.Str(q.DiscountCode)
		e.FieldStart("discountValue")
		e.Int64(q.DiscountValue)
	}
	e.FieldStart("discountAmount")
	e.Int64(q.DiscountAmount)
	e.FieldStart("totalPrice")
	e.Int64(q.TotalPrice)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	if o.UserID != "" {
		e.FieldStart("userId")
		e.Str(o.UserID)
	}
	e.FieldStart("fullName")
	e.Str(o.FullName)
	e.FieldStart("email")
	e.Str(o.Email)
	e.FieldStart("phoneNum")
	e.Str(o.PhoneNum)
	e.FieldStart("addressDetail")
	e.Str(o.AddressDetail)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("variantId")
		e.Str(l.VariantID)
		e.FieldStart("displayName")
		e.Str(l.DisplayName)
		e.FieldStart("imageUrl")
		e.Str(l.ImageURL)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		e.Int64(l.UnitPrice)
		e.FieldStart("lineTotal")
		e.Int64(l.Total())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("itemsTotal")
	e.Int64(o.ItemsTotal)
	if o.DiscountCode != "" {
		e.FieldStart("discountCode")
		e.Str(o.DiscountCode)
	}
	e.FieldStart("discountAmount")
	e.Int64(o.DiscountAmount)
	e.FieldStart("totalPrice")
	e.Int64(o.TotalPrice)
	e.FieldStart("status")
	e.Str(o.Status.String())
	encodeTime(e, "createdAt", o.CreatedAt)
	encodeTime(e, "updatedAt", o.UpdatedAt)
	e.ObjEnd()
}
