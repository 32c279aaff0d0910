package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authenticate resolves the request's principal. A request without an
// Authorization header yields ok == false and no error; a present but
// invalid token is an error.
func (h *Handler) authenticate(r *http.Request) (p auth.Principal, ok bool, err error) {
	if r.Header.Get("Authorization") == "" {
		return auth.Principal{}, false, nil
	}
	token, ok := bearerToken(r)
	if !ok {
		return auth.Principal{}, false, auth.ErrUnauthorized
	}
	p, err = h.auth.Authenticate(r.Context(), token)
	if err != nil {
		return auth.Principal{}, false, err
	}
	return p, true, nil
}

func withPrincipal(r *http.Request, p auth.Principal) *http.Request {
	ctx := auth.WithPrincipal(r.Context(), p)
	ctx = zctx.With(ctx, zap.String("user_id", p.UserID))
	return r.WithContext(ctx)
}

// optionalUser attaches the principal when a valid token is sent. Invalid
// tokens are still rejected so clients notice expired sessions.
func (h *Handler) optionalUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := h.authenticate(r)
		if err != nil {
			fail(w, r, err, scopeDefault)
			return
		}
		if ok {
			r = withPrincipal(r, p)
		}
		next(w, r)
	}
}

// user requires any authenticated principal.
func (h *Handler) user(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := h.authenticate(r)
		if err == nil && !ok {
			err = auth.ErrUnauthorized
		}
		if err != nil {
			fail(w, r, err, scopeDefault)
			return
		}
		next(w, withPrincipal(r, p))
	}
}

// admin requires a principal with the ADMIN role.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return h.user(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFrom(r.Context())
		if !p.IsAdmin() {
			fail(w, r, auth.ErrForbidden, scopeDefault)
			return
		}
		next(w, r)
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
