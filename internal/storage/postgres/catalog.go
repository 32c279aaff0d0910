package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

const (
	productColumns = `p.id, p.title, p.slug, p.description, p.category, p.brand, p.image_urls,
		p.created_at, p.updated_at, COALESCE(r.cnt, 0), COALESCE(r.avg, 0)`

	productFrom = `FROM products p
		LEFT JOIN LATERAL (
			SELECT count(*) AS cnt, round(avg(score), 1) AS avg FROM ratings WHERE product_id = p.id
		) r ON TRUE
		LEFT JOIN LATERAL (
			SELECT min(price) AS min_price FROM variants WHERE product_id = p.id
		) v ON TRUE`

	productFilter = `WHERE ($1::text = '' OR lower(p.brand) = lower($1::text))
		AND ($2::text = '' OR lower(p.category) = lower($2::text))
		AND ($3::text = '' OR p.title ILIKE '%' || $3::text || '%' ESCAPE '\')`

	listProductsSQL = `SELECT ` + productColumns + ` ` + productFrom + ` ` + productFilter + `
		ORDER BY :order LIMIT $4 OFFSET $5`

	countProductsSQL = `SELECT count(*) FROM products p ` + productFilter

	getProductByIDSQL   = `SELECT ` + productColumns + ` ` + productFrom + ` WHERE p.id = $1`
	getProductBySlugSQL = `SELECT ` + productColumns + ` ` + productFrom + ` WHERE p.slug = $1`

	slugExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE slug = $1)`

	listVariantsSQL = `SELECT id, product_id, name, price, stock, sold
		FROM variants WHERE product_id = ANY($1) ORDER BY product_id, position`

	listRatingsSQL = `SELECT id, product_id, user_id, user_name, score, comment, created_at
		FROM ratings WHERE product_id = $1 ORDER BY created_at, id`

	insertProductSQL = `INSERT INTO products
		(id, title, slug, description, category, brand, image_urls, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	updateProductSQL = `UPDATE products SET title = $2, description = $3, category = $4, brand = $5,
		image_urls = $6, updated_at = $7 WHERE id = $1`

	insertVariantSQL = `INSERT INTO variants (id, product_id, position, name, price, stock, sold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// Sold is owned by checkout and never overwritten by catalog edits.
	upsertVariantSQL = `INSERT INTO variants (id, product_id, position, name, price, stock, sold)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position, name = EXCLUDED.name,
			price = EXCLUDED.price, stock = EXCLUDED.stock
		WHERE variants.product_id = EXCLUDED.product_id`

	deleteRemovedVariantsSQL = `DELETE FROM variants WHERE product_id = $1 AND NOT (id = ANY($2))`
	// Same lock order as lockVariantsSQL.
	lockProductVariantsSQL = `SELECT id FROM variants WHERE product_id = $1 ORDER BY id FOR UPDATE`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	insertRatingSQL = `INSERT INTO ratings (id, product_id, user_id, user_name, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listBrandsSQL     = `SELECT DISTINCT brand FROM products WHERE brand <> '' ORDER BY brand`
	listCategoriesSQL = `SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`

	variantInfoSQL = `SELECT v.id, v.product_id, v.name, v.price, v.stock, v.sold,
		p.title, COALESCE(p.image_urls[1], '')
		FROM variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)`

	lockVariantsSQL = variantInfoSQL + ` ORDER BY v.id FOR UPDATE OF v`
)

var sortClauses = map[catalog.SortBy]string{
	catalog.SortNewest:    "p.created_at DESC, p.id",
	catalog.SortPriceAsc:  "v.min_price ASC NULLS LAST, p.created_at DESC, p.id",
	catalog.SortPriceDesc: "v.min_price DESC NULLS LAST, p.created_at DESC, p.id",
	catalog.SortTitle:     "p.title, p.id",
}

var (
	_ catalog.Repository    = (*ProductRepository)(nil)
	_ catalog.VariantReader = (*ProductRepository)(nil)
)

// ProductRepository implements catalog.Repository and catalog.VariantReader.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns a filtered, sorted page of products with their variants.
func (r *ProductRepository) List(ctx context.Context, f catalog.ListFilter) (*catalog.Page, error) {
	order, ok := sortClauses[f.SortBy]
	if !ok {
		order = sortClauses[catalog.SortNewest]
	}
	search := escapeLike(strings.TrimSpace(f.SearchKey))

	var total int
	if err := r.pool.QueryRow(ctx, countProductsSQL, f.Brand, f.Category, search).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count products")
	}

	rows, err := r.pool.Query(ctx, strings.Replace(listProductsSQL, ":order", order, 1),
		f.Brand, f.Category, search, f.PageSize, f.Offset())
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	return &catalog.Page{Products: products, Total: total}, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *ProductRepository) attachVariants(ctx context.Context, products []catalog.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := r.pool.Query(ctx, listVariantsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list variants")
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return errors.Wrap(err, "list variants")
	}
	for _, v := range variants {
		i := index[v.ProductID]
		products[i].Variants = append(products[i].Variants, v)
	}
	return nil
}

// GetByID returns a product with its variants and ratings.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	return r.getOne(ctx, getProductByIDSQL, id)
}

// GetBySlug returns a product with its variants and ratings.
func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (*catalog.Product, error) {
	return r.getOne(ctx, getProductBySlugSQL, slug)
}

func (r *ProductRepository) getOne(ctx context.Context, query, arg string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", arg)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", arg)
	}

	products := []catalog.Product{p}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	p = products[0]

	rows, err = r.pool.Query(ctx, listRatingsSQL, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list ratings")
	}
	if p.Ratings, err = pgx.CollectRows(rows, scanRating); err != nil {
		return nil, errors.Wrap(err, "list ratings")
	}
	return &p, nil
}

// SlugExists reports whether a product uses slug.
func (r *ProductRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, slugExistsSQL, slug).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check slug")
	}
	return exists, nil
}

// Create inserts a product and its variants in one transaction.
func (r *ProductRepository) Create(ctx context.Context, p *catalog.Product) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertProductSQL,
			p.ID, p.Title, p.Slug, p.Description, p.Category, p.Brand, nonNil(p.ImageURLs),
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, "products_slug_key") {
				return catalog.ErrSlugTaken
			}
			return errors.Wrap(err, "insert product")
		}
		for i, v := range p.Variants {
			if _, err := tx.Exec(ctx, insertVariantSQL,
				v.ID, p.ID, i, v.Name, v.Price, v.Stock, v.Sold,
			); err != nil {
				return errors.Wrapf(err, "insert variant %s", v.ID)
			}
		}
		return nil
	})
}

// Update rewrites a product and reconciles its variant set.
func (r *ProductRepository) Update(ctx context.Context, p *catalog.Product) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateProductSQL,
			p.ID, p.Title, p.Description, p.Category, p.Brand, nonNil(p.ImageURLs), p.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "update product")
		}
		if tag.RowsAffected() == 0 {
			return catalog.ErrProductNotFound
		}

		// Lock the existing variants in id order before touching any of them;
		// upserting in position order alone could deadlock with checkout.
		rows, err := tx.Query(ctx, lockProductVariantsSQL, p.ID)
		if err != nil {
			return errors.Wrap(err, "lock variants")
		}
		if _, err := pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
			return errors.Wrap(err, "lock variants")
		}

		keep := make([]string, len(p.Variants))
		for i, v := range p.Variants {
			keep[i] = v.ID
		}
		if _, err := tx.Exec(ctx, deleteRemovedVariantsSQL, p.ID, keep); err != nil {
			return errors.Wrap(err, "delete removed variants")
		}
		for i, v := range p.Variants {
			tag, err := tx.Exec(ctx, upsertVariantSQL, v.ID, p.ID, i, v.Name, v.Price, v.Stock)
			if err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.ID)
			}
			if tag.RowsAffected() == 0 {
				return &catalog.VariantNotFoundError{VariantID: v.ID}
			}
		}
		return nil
	})
}

// Delete removes a product; variants and ratings cascade.
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete product %q", id)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

// AddRating inserts a rating.
func (r *ProductRepository) AddRating(ctx context.Context, rt *catalog.Rating) error {
	_, err := r.pool.Exec(ctx, insertRatingSQL,
		rt.ID, rt.ProductID, rt.UserID, rt.UserName, rt.Score, rt.Comment, rt.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return catalog.ErrProductNotFound
		}
		return errors.Wrap(err, "insert rating")
	}
	return nil
}

// Brands returns the distinct non-empty brands.
func (r *ProductRepository) Brands(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, listBrandsSQL)
}

// Categories returns the distinct non-empty categories.
func (r *ProductRepository) Categories(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, listCategoriesSQL)
}

func (r *ProductRepository) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetVariants resolves variant ids without locking.
func (r *ProductRepository) GetVariants(ctx context.Context, ids []string) (map[string]catalog.VariantInfo, error) {
	return queryVariantInfos(ctx, r.pool, variantInfoSQL, ids)
}

func queryVariantInfos(ctx context.Context, q querier, query string, ids []string) (map[string]catalog.VariantInfo, error) {
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	infos, err := pgx.CollectRows(rows, scanVariantInfo)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	out := make(map[string]catalog.VariantInfo, len(infos))
	for _, v := range infos {
		out[v.ID] = v
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &p.Description, &p.Category, &p.Brand, &p.ImageURLs,
		&p.CreatedAt, &p.UpdatedAt, &p.Score.Count, &p.Score.Average,
	)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Stock, &v.Sold)
	return v, err
}

func scanVariantInfo(row pgx.CollectableRow) (catalog.VariantInfo, error) {
	var v catalog.VariantInfo
	err := row.Scan(
		&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Stock, &v.Sold,
		&v.ProductTitle, &v.ImageURL,
	)
	return v, err
}

func scanRating(row pgx.CollectableRow) (catalog.Rating, error) {
	var rt catalog.Rating
	err := row.Scan(&rt.ID, &rt.ProductID, &rt.UserID, &rt.UserName, &rt.Score, &rt.Comment, &rt.CreatedAt)
	return rt, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
