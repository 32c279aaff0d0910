package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

type variantRequest struct {
	ID    string `json:"id" validate:"max=64"`
	Name  string `json:"name" validate:"required,max=100"`
	Price int64  `json:"price" validate:"gte=0"`
	Stock int    `json:"stock" validate:"gte=0"`
}

func (req *variantRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "id":
		return true, decodeStr(d, &req.ID)
	case "name":
		return true, decodeStr(d, &req.Name)
	case "price":
		return true, decodeInt64(d, &req.Price)
	case "stock":
		return true, decodeInt(d, &req.Stock)
	}
	return false, nil
}

type productRequest struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	Category    string           `json:"category" validate:"max=100"`
	Brand       string           `json:"brand" validate:"max=100"`
	ImageURLs   []string         `json:"imageUrls" validate:"max=20,dive,url"`
	Variants    []variantRequest `json:"variants" validate:"required,min=1,max=50,dive"`
}

func (req *productRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "title":
		return true, decodeStr(d, &req.Title)
	case "description":
		return true, decodeStr(d, &req.Description)
	case "category":
		return true, decodeStr(d, &req.Category)
	case "brand":
		return true, decodeStr(d, &req.Brand)
	case "imageUrls":
		return true, decodeStrings(d, &req.ImageURLs)
	case "variants":
		return true, decodeArr(d, &req.Variants)
	}
	return false, nil
}

func (req *productRequest) input() catalog.ProductInput {
	in := catalog.ProductInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Brand:       req.Brand,
		ImageURLs:   req.ImageURLs,
		Variants:    make([]catalog.VariantInput, len(req.Variants)),
	}
	for i, v := range req.Variants {
		in.Variants[i] = catalog.VariantInput{ID: v.ID, Name: v.Name, Price: v.Price, Stock: v.Stock}
	}
	return in
}

type ratingRequest struct {
	Score   int    `json:"score" validate:"gte=1,lte=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

func (req *ratingRequest) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "score":
		return true, decodeInt(d, &req.Score)
	case "comment":
		return true, decodeStr(d, &req.Comment)
	}
	return false, nil
}

// ListProducts returns a filtered, sorted page of products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	q := r.URL.Query()
	res, err := h.catalog.List(r.Context(), catalog.ListFilter{
		Brand:     q.Get("brand"),
		Category:  q.Get("category"),
		SearchKey: q.Get("searchKey"),
		SortBy:    catalog.SortBy(q.Get("sortBy")),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}

	page, pageSize = normalizePage(page, pageSize)
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("products")
	e.ArrStart()
	for i := range res.Products {
		encodeProduct(&e, &res.Products[i], false)
	}
	e.ArrEnd()
	encodePage(&e, res.Total, page, pageSize)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetProductBySlug returns a product with its variants and ratings.
func (h *Handler) GetProductBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeProduct(&e, p, true)
	writeJSON(w, http.StatusOK, &e)
}

// CreateProduct adds a product with its variants.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	p, err := h.catalog.Create(r.Context(), req.input())
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeProduct(&e, p, false)
	writeJSON(w, http.StatusCreated, &e)
}

// UpdateProduct replaces the editable fields and variants of a product.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	p, err := h.catalog.Update(r.Context(), r.PathValue("id"), req.input())
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeProduct(&e, p, false)
	writeJSON(w, http.StatusOK, &e)
}

// DeleteProduct removes a product.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), r.PathValue("id")); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRating records the caller's rating of a product.
func (h *Handler) AddRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := h.decodeBody(r, &req); err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	p := principal(r)
	u, err := h.auth.Me(r.Context(), p)
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	rt, err := h.catalog.AddRating(r.Context(), r.PathValue("id"), catalog.RatingInput{
		UserID:   u.ID,
		UserName: u.Name,
		Score:    req.Score,
		Comment:  req.Comment,
	})
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	encodeRating(&e, rt)
	writeJSON(w, http.StatusCreated, &e)
}

// ListBrands returns the distinct brands in the catalog.
func (h *Handler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.catalog.Brands(r.Context())
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	e.ArrStart()
	for _, b := range brands {
		e.Str(b)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// ListCategories returns the distinct categories in the catalog.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		fail(w, r, err, scopeDefault)
		return
	}
	var e jx.Encoder
	e.ArrStart()
	for _, c := range categories {
		e.Str(c)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

func encodeProduct(e *jx.Encoder, p *catalog.Product, withRatings bool) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("title")
	e.Str(p.Title)
	e.FieldStart("slug")
	e.Str(p.Slug)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("brand")
	e.Str(p.Brand)
	encodeStrings(e, "imageUrls", p.ImageURLs)
	e.FieldStart("variants")
	e.ArrStart()
	for _, v := range p.Variants {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(v.ID)
		e.FieldStart("name")
		e.Str(v.Name)
		e.FieldStart("price")
		e.Int64(v.Price)
		e.FieldStart("stock")
		e.Int(v.Stock)
		e.FieldStart("sold")
		e.Int(v.Sold)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("ratingCount")
	e.Int(p.Score.Count)
	e.FieldStart("averageScore")
	e.Float64(p.Score.Average.InexactFloat64())
	if withRatings {
		e.FieldStart("ratings")
		e.ArrStart()
		for i := range p.Ratings {
			encodeRating(e, &p.Ratings[i])
		}
		e.ArrEnd()
	}
	encodeTime(e, "createdAt", p.CreatedAt)
	encodeTime(e, "updatedAt", p.UpdatedAt)
	e.ObjEnd()
}

func encodeRating(e *jx.Encoder, rt *catalog.Rating) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rt.ID)
	e.FieldStart("userId")
	e.Str(rt.UserID)
	e.FieldStart("userName")
	e.Str(rt.UserName)
	e.FieldStart("score")
	e.Int(rt.Score)
	e.FieldStart("comment")
	e.Str(rt.Comment)
	encodeTime(e, "createdAt", rt.CreatedAt)
	e.ObjEnd()
}
