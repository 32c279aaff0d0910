// Package handler implements the HTTP API on top of the domain services.
package handler

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Handler serves the /api routes.
type Handler struct {
	orders    *order.Service
	catalog   *catalog.Service
	discounts *discount.Service
	auth      *auth.Service
	validate  *validator.Validate
}

// New constructs a Handler with the required domain services.
func New(
	orders *order.Service,
	catalog *catalog.Service,
	discounts *discount.Service,
	auth *auth.Service,
) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		orders:    orders,
		catalog:   catalog,
		discounts: discounts,
		auth:      auth,
		validate:  v,
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	// Checkout.
	mux.HandleFunc("POST /api/orders/calculate", h.optionalUser(h.CalculateOrder))
	mux.HandleFunc("POST /api/orders", h.optionalUser(h.CreateOrder))
	mux.HandleFunc("GET /api/orders", h.admin(h.ListOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.admin(h.GetOrder))
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.admin(h.UpdateOrderStatus))

	// Discounts.
	mux.HandleFunc("GET /api/discounts", h.admin(h.ListDiscounts))
	mux.HandleFunc("POST /api/discounts", h.admin(h.CreateDiscount))
	mux.HandleFunc("DELETE /api/discounts/{id}", h.admin(h.DeleteDiscount))

	// Catalog.
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/by-slug/{slug}", h.GetProductBySlug)
	mux.HandleFunc("POST /api/products", h.admin(h.CreateProduct))
	mux.HandleFunc("PUT /api/products/{id}", h.admin(h.UpdateProduct))
	mux.HandleFunc("DELETE /api/products/{id}", h.admin(h.DeleteProduct))
	mux.HandleFunc("POST /api/products/{id}/ratings", h.user(h.AddRating))
	mux.HandleFunc("GET /api/brands", h.ListBrands)
	mux.HandleFunc("GET /api/categories", h.ListCategories)

	// Accounts.
	mux.HandleFunc("POST /api/auth/signup", h.SignUp)
	mux.HandleFunc("POST /api/auth/signin", h.SignIn)
	mux.HandleFunc("GET /api/auth/me", h.user(h.Me))
	mux.HandleFunc("POST /api/auth/signout", h.user(h.SignOut))
	mux.HandleFunc("POST /api/auth/change-password", h.user(h.ChangePassword))
	mux.HandleFunc("POST /api/auth/toggle-ban-user/{id}", h.admin(h.ToggleBan))
	mux.HandleFunc("GET /api/users", h.admin(h.ListUsers))
}
