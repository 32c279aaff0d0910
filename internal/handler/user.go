package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

type signUpRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Email     string   `json:"email" validate:"required,email,max=254"`
	PhoneNum  string   `json:"phoneNum" validate:"required,max=32"`
	Password  string   `json:"password" validate:"required,min=8,max=72"`
	Addresses []string `json:"addresses" validate:"max=10,dive,required,max=500"`
}

func (req *signUpRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "name":
		return true, decodeStr(d, &req.Name)
	case "email":
		return true, decodeStr(d, &req.Email)
	case "phoneNum":
		return true, decodeStr(d, &req.PhoneNum)
	case "password":
		return true, decodeStr(d, &req.Password)
	case "addresses":
		return true, decodeStrings(d, &req.Addresses)
	}
	return false, nil
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (req *signInRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "email":
		return true, decodeStr(d, &req.Email)
	case "password":
		return true, decodeStr(d, &req.Password)
	}
	return false, nil
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

func (req *changePasswordRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "oldPassword":
		return true, decodeStr(d, &req.OldPassword)
	case "newPassword":
		return true, decodeStr(d, &req.NewPassword)
	}
	return false, nil
}

// SignUp creates an account and returns a session.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	s, err := h.auth.SignUp(r.Context(), auth.SignUpRequest{
		Name:      req.Name,
		Email:     req.Email,
		PhoneNum:  req.PhoneNum,
		Password:  req.Password,
		Addresses: req.Addresses,
	})
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	writeSession(w, http.StatusCreated, s)
}

// SignIn exchanges credentials for a session.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	s, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	writeSession(w, http.StatusOK, s)
}

// Me returns the caller's account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Me(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeUser(&e, u)
	writeJSON(w, http.StatusOK, &e)
}

// SignOut revokes the caller's token.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), principal(r)); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword sets a new password and returns a fresh session; older
// tokens stop working.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	s, err := h.auth.ChangePassword(r.Context(), principal(r), req.OldPassword, req.NewPassword)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	writeSession(w, http.StatusOK, s)
}

// ListUsers returns a page of accounts.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	users, total, err := h.auth.ListUsers(r.Context(), page, pageSize)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}

	page, pageSize = normalizePage(page, pageSize)
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("users")
	e.ArrStart()
	for i := range users {
		encodeUser(&e, &users[i])
	}
	e.ArrEnd()
	encodePage(&e, total, page, pageSize)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// ToggleBan bans or unbans a user.
func (h *Handler) ToggleBan(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.ToggleBan(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeUser(&e, u)
	writeJSON(w, http.StatusOK, &e)
}

func writeSession(w http.ResponseWriter, status int, s *auth.Session) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("token")
	e.Str(s.Token)
	encodeTime(&e, "expiresAt", s.ExpiresAt)
	e.FieldStart("user")
	encodeUser(&e, s.User)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// encodeUser never writes the password hash.
func encodeUser(e *jx.Encoder, u *auth.User) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(u.ID)
	e.FieldStart("email")
	e.Str(u.Email)
	e.FieldStart("phoneNum")
	e.Str(u.PhoneNum)
	e.FieldStart("name")
	e.Str(u.Name)
	encodeStrings(e, "addresses", u.Addresses)
	e.FieldStart("role")
	e.Str(string(u.Role))
	e.FieldStart("isBanned")
	e.Bool(u.Banned)
	encodeTime(e, "createdAt", u.CreatedAt)
	e.ObjEnd()
}
