package sink

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

func price(v float64) *float64 { return &v }

func TestPriceCents(t *testing.T) {
	require.Equal(t, 0, PriceCents(nil))
	require.Equal(t, 0, PriceCents(price(-1)))
	require.Equal(t, 8990, PriceCents(price(89.90)))
	require.Equal(t, 123456, PriceCents(price(1234.56)))
	require.Equal(t, 10, PriceCents(price(0.095)))
}

func TestNormalizeSKU(t *testing.T) {
	require.Equal(t, "SER-001", NormalizeSKU(" ser-001 "))
	require.Equal(t, "ABC123", NormalizeSKU("abc 123!"))
	require.Equal(t, "", NormalizeSKU("  "))
	require.Equal(t, "X1", NormalizeSKU("--x1--"))
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "serum-vitamina-c-30ml", Slugify("Sérum Vitamina C 30ml"))
	require.Equal(t, "protecao-solar", Slugify("  Proteção // Solar  "))
	require.Equal(t, "", Slugify("!!!"))
}

func newMockSink(t *testing.T) (*PostgresSink, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresSinkWithPool(mock, zap.NewNop()), mock
}

func TestPersistInsertsNewProduct(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	product := scraper.Product{
		Title:      "Sérum Vitamina C",
		Brand:      "Vichy",
		Price:      price(129.90),
		SKU:        "ser-001",
		Images:     []string{"https://cdn.example.com/a.jpg"},
		Categories: []string{"Tratamento"},
		DetailURL:  "https://shop.test/produto/serum",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, slug FROM products WHERE sku").
		WithArgs("SER-001").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("serum-vitamina-c", "SER-001").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO products").
		WithArgs(pgxmock.AnyArg(), "SER-001", "serum-vitamina-c", product.Title, product.Brand,
			12990, "", "", pgxmock.AnyArg(), product.DetailURL, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM product_images").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO product_images").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "https://cdn.example.com/a.jpg", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM product_categories").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs(pgxmock.AnyArg(), "Tratamento").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("cat-1"))
	mock.ExpectExec("INSERT INTO product_categories").
		WithArgs(pgxmock.AnyArg(), "cat-1", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scrape_results").
		WithArgs(pgxmock.AnyArg(), "job-1", pgxmock.AnyArg(), product.Title, "SER-001",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := s.Persist(context.Background(), "job-1", product, scraper.PersistOptions{CommitToCatalog: true})
	require.NoError(t, err)
	require.Equal(t, "SER-001", result.SKU)
	require.NotNil(t, result.ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistExistingSKUWithoutOverwrite(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	product := scraper.Product{Title: "Creme", SKU: "CR-1"}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, slug FROM products WHERE sku").
		WithArgs("CR-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug"}).AddRow("prod-9", "creme"))
	mock.ExpectExec("DELETE FROM product_images").
		WithArgs("prod-9").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM product_categories").
		WithArgs("prod-9").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO scrape_results").
		WithArgs(pgxmock.AnyArg(), "job-1", pgxmock.AnyArg(), "Creme", "CR-1",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := s.Persist(context.Background(), "job-1", product, scraper.PersistOptions{CommitToCatalog: true})
	require.NoError(t, err)
	require.Equal(t, "prod-9", *result.ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistTestModeSkipsCatalog(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	product := scraper.Product{Title: "Creme", SKU: "CR-1"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scrape_results").
		WithArgs(pgxmock.AnyArg(), "job-1", pgxmock.AnyArg(), "Creme", "CR-1",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := s.Persist(context.Background(), "job-1", product, scraper.PersistOptions{CommitToCatalog: false})
	require.NoError(t, err)
	require.Nil(t, result.ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistSynthesizesSKU(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	product := scraper.Product{Title: "Sem SKU"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scrape_results").
		WithArgs(pgxmock.AnyArg(), "job-1", pgxmock.AnyArg(), "Sem SKU", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	result, err := s.Persist(context.Background(), "job-1", product, scraper.PersistOptions{})
	require.NoError(t, err)
	require.True(t, len(result.SKU) > len("SCRAPE-"))
	require.Contains(t, result.SKU, "SCRAPE-")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemorySinkIdempotentPerJobAndSKU(t *testing.T) {
	t.Parallel()

	s := NewMemorySink()
	ctx := context.Background()
	product := scraper.Product{Title: "Creme", SKU: "CR-1"}

	first, err := s.Persist(ctx, "job-1", product, scraper.PersistOptions{CommitToCatalog: true})
	require.NoError(t, err)
	second, err := s.Persist(ctx, "job-1", product, scraper.PersistOptions{CommitToCatalog: true})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	count, err := s.CountResults(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
