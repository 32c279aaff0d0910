package order

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

// ErrIdempotencyKeyReused is returned when a caller repeats an idempotency
// key with a different order payload.
var ErrIdempotencyKeyReused = apperr.New(apperr.KindConflict, "idempotency_key_reused",
	"idempotency key was already used for a different order")

// storedIdempotencyKey scopes the client key to its caller: the user id when
// signed in, the normalized email otherwise. Two callers sending the same key
// never see each other's orders.
func storedIdempotencyKey(req PlaceRequest) string {
	scope := "email:" + strings.ToLower(req.Email)
	if req.UserID != "" {
		scope = "user:" + req.UserID
	}
	h := sha256.New()
	writeField(h, scope)
	writeField(h, req.IdempotencyKey)
	return hex.EncodeToString(h.Sum(nil))
}

// requestHash fingerprints everything that shapes the order. items and code
// must already be normalized.
func requestHash(req PlaceRequest, items []pricing.Item, code string) string {
	h := sha256.New()
	for _, it := range items {
		writeField(h, it.VariantID)
		writeField(h, strconv.Itoa(it.Quantity))
	}
	writeField(h, code)
	writeField(h, req.FullName)
	writeField(h, req.Email)
	writeField(h, req.PhoneNum)
	writeField(h, req.AddressDetail)
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes s so adjacent fields cannot run together.
func writeField(h hash.Hash, s string) {
	_, _ = h.Write([]byte(strconv.Itoa(len(s))))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(s))
}
