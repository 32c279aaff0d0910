package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

type createDiscountRequest struct {
	Code          string `json:"code" validate:"omitempty,min=4,max=16,alphanum"`
	DiscountValue int64  `json:"discountValue" validate:"gt=0"`
	UsageLimit    int    `json:"usageLimit" validate:"gte=1"`
}

func (req *createDiscountRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "code":
		return true, decodeStr(d, &req.Code)
	case "discountValue":
		return true, decodeInt64(d, &req.DiscountValue)
	case "usageLimit":
		return true, decodeInt(d, &req.UsageLimit)
	}
	return false, nil
}

// ListDiscounts returns every discount code.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.discounts.List(r.Context())
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	e.ArrStart()
	for i := range list {
		encodeDiscount(&e, &list[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// CreateDiscount creates a code. The server generates one when code is
// omitted.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req createDiscountRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	d, err := h.discounts.Create(r.Context(), discount.CreateRequest{
		Code:       req.Code,
		Value:      req.DiscountValue,
		UsageLimit: req.UsageLimit,
	})
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeDiscount(&e, d)
	writeJSON(w, http.StatusCreated, &e)
}

// DeleteDiscount removes a code by id.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	if err := h.discounts.Delete(r.Context(), r.PathValue("id")); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encodeDiscount(e *jx.Encoder, d *discount.Discount) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(d.ID)
	e.FieldStart("code")
	e.Str(d.Code)
	e.FieldStart("discountValue")
	e.Int64(d.Value)
	e.FieldStart("usageCount")
	e.Int(d.UsageCount)
	e.FieldStart("usageLimit")
	e.Int(d.UsageLimit)
	e.FieldStart("remaining")
	e.Int(d.Remaining())
	encodeTime(e, "createdAt", d.CreatedAt)
	e.ObjEnd()
}
