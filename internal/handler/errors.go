package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// scope adjusts the status mapping for endpoints whose clients expect a
// narrower set of codes.
type scope int

const (
	scopeDefault scope = iota
	// scopePreview reports every domain rejection as 400: nothing was
	// attempted, the cart is simply not purchasable as submitted.
	scopePreview
	// scopeCheckout reports unknown variants and codes as 400 and keeps 409
	// for stock and discount conflicts.
	scopeCheckout
)

func statusFor(kind apperr.Kind, s scope) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		if s != scopeDefault {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case apperr.KindConflict:
		if s == scopePreview {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail maps err to an HTTP status and writes the error body. Internal errors
// are logged and never exposed.
func fail(w http.ResponseWriter, r *http.Request, err error, s scope) {
	kind, reason := apperr.Classify(err)
	status := statusFor(kind, s)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, reason, apperr.Message(err))
}
