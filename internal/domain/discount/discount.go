package discount

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

const (
	// GeneratedCodeLength is the length of server-generated codes.
	GeneratedCodeLength = 8
	minCodeLength       = 4
	maxCodeLength       = 16
	codeAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	// ErrNotFound is returned when a discount code or id is unknown.
	ErrNotFound = apperr.New(apperr.KindNotFound, "discount_not_found", "discount code not found")
	// ErrExhausted is returned when a code has reached its usage limit.
	ErrExhausted = apperr.New(apperr.KindConflict, "discount_exhausted", "discount code usage limit reached")
	// ErrDuplicateCode is returned when creating a code that already exists.
	ErrDuplicateCode = apperr.New(apperr.KindConflict, "duplicate_discount_code", "discount code already exists")
	// ErrInvalidCode is returned for codes outside the accepted format.
	ErrInvalidCode = apperr.Validation("discount code must be 4-16 letters or digits")
)

// Discount is a redeemable flat-amount code bounded by a usage limit.
// UsageCount never exceeds UsageLimit.
type Discount struct {
	ID         string
	Code       string
	Value      int64
	UsageCount int
	UsageLimit int
	CreatedAt  time.Time
}

// Remaining returns how many redemptions are left.
func (d *Discount) Remaining() int {
	if r := d.UsageLimit - d.UsageCount; r > 0 {
		return r
	}
	return 0
}

// Status is the outcome of checking a code.
type Status int

const (
	StatusValid Status = iota
	StatusNotFound
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusNotFound:
		return "not_found"
	case StatusExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Err returns the error matching a non-valid status, or nil.
func (s Status) Err() error {
	switch s {
	case StatusNotFound:
		return ErrNotFound
	case StatusExhausted:
		return ErrExhausted
	}
	return nil
}

// Evaluate classifies a looked-up discount. A nil discount is not found.
func Evaluate(d *Discount) Status {
	if d == nil {
		return StatusNotFound
	}
	if d.UsageCount >= d.UsageLimit {
		return StatusExhausted
	}
	return StatusValid
}

// NormalizeCode upper-cases and trims a code and checks its format.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return "", ErrInvalidCode
	}
	for i := range len(code) {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}

// GenerateCode returns a random code of GeneratedCodeLength characters.
func GenerateCode() (string, error) {
	buf := make([]byte, GeneratedCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Repository defines discount persistence outside of checkout.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
	List(ctx context.Context) ([]Discount, error)
	Create(ctx context.Context, d *Discount) error
	Delete(ctx context.Context, id string) error
}
