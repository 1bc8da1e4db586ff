// Package sink persists scraped products into the catalog schema and
// records per-job result rows.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/id"
	"github.com/dermosul/catalog-scraper/internal/scraper"
)

// maxSlugAttempts bounds the slug uniqueness loop before falling back to a
// random suffix.
const maxSlugAttempts = 20

var (
	skuCleanRe      = regexp.MustCompile(`[^A-Z0-9_-]+`)
	slugInvalidRe   = regexp.MustCompile(`[^a-z0-9]+`)
	slugCollapseRe  = regexp.MustCompile(`-{2,}`)
	diacriticsPairs = strings.NewReplacer(
		"á", "a", "à", "a", "ã", "a", "â", "a", "ä", "a",
		"é", "e", "ê", "e", "è", "e", "ë", "e",
		"í", "i", "î", "i", "ì", "i", "ï", "i",
		"ó", "o", "ô", "o", "õ", "o", "ò", "o", "ö", "o",
		"ú", "u", "û", "u", "ù", "u", "ü", "u",
		"ç", "c", "ñ", "n",
	)
)

type dbConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresSink implements scraper.Sink against the catalog schema.
type PostgresSink struct {
	pool   dbConn
	logger *zap.Logger
}

// NewPostgresSink connects a sink to the database.
func NewPostgresSink(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSink{pool: pool, logger: logger}, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool (primarily
// for testing).
func NewPostgresSinkWithPool(pool dbConn, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, logger: logger}
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Persist writes a product and its scrape result row in one transaction.
// With CommitToCatalog false only the result row is written, leaving the
// catalog untouched. Re-running a job upserts by SKU, so persistence is
// idempotent per (jobID, SKU).
func (s *PostgresSink) Persist(ctx context.Context, jobID string, product scraper.Product, opts scraper.PersistOptions) (scraper.Result, error) {
	sku := NormalizeSKU(product.SKU)
	if sku == "" {
		sku = "SCRAPE-" + strings.ToUpper(id.NewShortID(8))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var productID *string
	if opts.CommitToCatalog {
		pid, err := s.upsertProduct(ctx, tx, product, sku, opts.OverwriteExisting)
		if err != nil {
			return scraper.Result{}, err
		}
		productID = &pid

		if err := s.replaceImages(ctx, tx, pid, product.Images); err != nil {
			return scraper.Result{}, err
		}
		if err := s.linkCategories(ctx, tx, pid, product.Categories); err != nil {
			return scraper.Result{}, err
		}
	}

	result := scraper.Result{
		ID:        id.NewRecordID(),
		JobID:     jobID,
		ProductID: productID,
		Title:     product.Title,
		SKU:       sku,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(product)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("marshal product snapshot: %w", err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO scrape_results (id, job_id, product_id, title, sku, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (job_id, sku) DO UPDATE SET product_id = EXCLUDED.product_id, title = EXCLUDED.title, payload = EXCLUDED.payload;`,
		result.ID, result.JobID, result.ProductID, result.Title, result.SKU, raw, result.CreatedAt)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("insert scrape result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return scraper.Result{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (s *PostgresSink) upsertProduct(ctx context.Context, tx pgx.Tx, product scraper.Product, sku string, overwrite bool) (string, error) {
	var existingID string
	var existingSlug string
	err := tx.QueryRow(ctx, `SELECT id, slug FROM products WHERE sku = $1;`, sku).Scan(&existingID, &existingSlug)
	switch {
	case err == nil:
		if !overwrite {
			return existingID, nil
		}
		return existingID, s.updateProduct(ctx, tx, existingID, product)
	case errors.Is(err, pgx.ErrNoRows):
		return s.insertProduct(ctx, tx, product, sku)
	default:
		return "", fmt.Errorf("lookup product by sku: %w", err)
	}
}

func (s *PostgresSink) insertProduct(ctx context.Context, tx pgx.Tx, product scraper.Product, sku string) (string, error) {
	slug, err := s.uniqueSlug(ctx, tx, product.Title, sku)
	if err != nil {
		return "", err
	}
	attrs, err := json.Marshal(product.Attributes)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}

	productID := id.NewRecordID()
	_, err = tx.Exec(ctx, `
INSERT INTO products (id, sku, slug, title, brand, price_cents, short_description, long_description_html, attributes, detail_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11);`,
		productID, sku, slug, product.Title, product.Brand, PriceCents(product.Price),
		product.ShortDescription, product.LongDescriptionHTML, attrs, product.DetailURL, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert product: %w", err)
	}
	return productID, nil
}

func (s *PostgresSink) updateProduct(ctx context.Context, tx pgx.Tx, productID string, product scraper.Product) error {
	attrs, err := json.Marshal(product.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = tx.Exec(ctx, `
UPDATE products
SET title = $2, brand = $3, price_cents = $4, short_description = $5,
	long_description_html = $6, attributes = $7, detail_url = $8, updated_at = $9
WHERE id = $1;`,
		productID, product.Title, product.Brand, PriceCents(product.Price),
		product.ShortDescription, product.LongDescriptionHTML, attrs, product.DetailURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

// uniqueSlug derives a slug from the title and suffixes it until no other
// SKU holds it.
func (s *PostgresSink) uniqueSlug(ctx context.Context, tx pgx.Tx, title, sku string) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = strings.ToLower(sku)
	}

	candidate := base
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		var taken bool
		err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE slug = $1 AND sku <> $2);`, candidate, sku).Scan(&taken)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt+1)
	}
	return base + "-" + id.NewShortID(6), nil
}

func (s *PostgresSink) replaceImages(ctx context.Context, tx pgx.Tx, productID string, images []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM product_images WHERE product_id = $1;`, productID); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	for position, url := range images {
		_, err := tx.Exec(ctx, `
INSERT INTO product_images (id, product_id, url, position) VALUES ($1, $2, $3, $4);`,
			id.NewRecordID(), productID, url, position)
		if err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) linkCategories(ctx context.Context, tx pgx.Tx, productID string, categories []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM product_categories WHERE product_id = $1;`, productID); err != nil {
		return fmt.Errorf("unlink categories: %w", err)
	}
	for position, name := range categories {
		var categoryID string
		err := tx.QueryRow(ctx, `
INSERT INTO categories (id, name) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id;`, id.NewRecordID(), name).Scan(&categoryID)
		if err != nil {
			return fmt.Errorf("ensure category %q: %w", name, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO product_categories (product_id, category_id, position) VALUES ($1, $2, $3);`,
			productID, categoryID, position)
		if err != nil {
			return fmt.Errorf("link category %q: %w", name, err)
		}
	}
	return nil
}

// CountResults returns how many result rows a job has written.
func (s *PostgresSink) CountResults(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scrape_results WHERE job_id = $1;`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return count, nil
}

// ListResults returns a job's result rows in insertion order.
func (s *PostgresSink) ListResults(ctx context.Context, jobID string) ([]scraper.Result, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, job_id, product_id, title, sku, created_at
FROM scrape_results WHERE job_id = $1 ORDER BY created_at;`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []scraper.Result
	for rows.Next() {
		var r scraper.Result
		if err := rows.Scan(&r.ID, &r.JobID, &r.ProductID, &r.Title, &r.SKU, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// NormalizeSKU uppercases and strips characters that never appear in real
// SKUs. Whitespace-only input normalizes to empty.
func NormalizeSKU(sku string) string {
	cleaned := skuCleanRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(sku)), "")
	return strings.Trim(cleaned, "-_")
}

// PriceCents converts a decimal price to integer cents, rounding half up.
// Nil or non-positive prices become 0.
func PriceCents(price *float64) int {
	if price == nil || *price <= 0 {
		return 0
	}
	return int(math.Round(*price * 100))
}

// Slugify lowercases, strips accents common in Portuguese product names and
// collapses everything else into single dashes.
func Slugify(title string) string {
	slug := diacriticsPairs.Replace(strings.ToLower(strings.TrimSpace(title)))
	slug = slugInvalidRe.ReplaceAllString(slug, "-")
	slug = slugCollapseRe.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
