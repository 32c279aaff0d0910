// Package auth implements storefront accounts, password hashing and bearer
// tokens.
package auth

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

// Role is a user's authorization level.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

var (
	// ErrUnauthorized is returned for a missing, invalid or revoked token.
	ErrUnauthorized = apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication required")
	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = apperr.New(apperr.KindForbidden, "forbidden", "insufficient permissions")
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "unauthorized", "invalid email or password")
	// ErrBanned is returned when a banned user signs in or uses a token.
	ErrBanned = apperr.New(apperr.KindForbidden, "forbidden", "account is banned")
	// ErrUserNotFound is returned when a user id is unknown.
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "not_found", "user not found")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = apperr.New(apperr.KindConflict, "conflict", "email already registered")
)

// User is a storefront account.
type User struct {
	ID           string
	Name         string
	Email        string
	PhoneNum     string
	Addresses    []string
	PasswordHash string
	Role         Role
	Banned       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepository persists users. Emails are stored lower-case.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, page, pageSize int) ([]User, int, error)
	UpdatePassword(ctx context.Context, id, hash string, at time.Time) error
	SetBanned(ctx context.Context, id string, banned bool, at time.Time) error
}

// Revocations records tokens that must be rejected before they expire.
type Revocations interface {
	// Revoke rejects the token with the given id for ttl.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// RevokeUser rejects every token of userID issued before at. Token
	// issue times have second precision, so at is truncated to the second.
	RevokeUser(ctx context.Context, userID string, at time.Time, ttl time.Duration) error
	IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
