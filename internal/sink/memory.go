package sink

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dermosul/catalog-scraper/internal/id"
	"github.com/dermosul/catalog-scraper/internal/scraper"
)

// MemorySink implements scraper.Sink in process memory for local development
// and tests. Catalog commits are tracked per SKU.
type MemorySink struct {
	mu       sync.Mutex
	results  map[string][]scraper.Result
	products map[string]scraper.Product
}

// NewMemorySink builds an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		results:  make(map[string][]scraper.Result),
		products: make(map[string]scraper.Product),
	}
}

// Persist records the result row and, when committing, upserts the product
// by normalized SKU.
func (s *MemorySink) Persist(_ context.Context, jobID string, product scraper.Product, opts scraper.PersistOptions) (scraper.Result, error) {
	sku := NormalizeSKU(product.SKU)
	if sku == "" {
		sku = "SCRAPE-" + strings.ToUpper(id.NewShortID(8))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var productID *string
	if opts.CommitToCatalog {
		if _, exists := s.products[sku]; !exists || opts.OverwriteExisting {
			s.products[sku] = product
		}
		pid := "mem-" + sku
		productID = &pid
	}

	for i, existing := range s.results[jobID] {
		if existing.SKU == sku {
			// Idempotent per (jobID, SKU): refresh in place.
			s.results[jobID][i].Title = product.Title
			s.results[jobID][i].ProductID = productID
			return s.results[jobID][i], nil
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
	s.results[jobID] = append(s.results[jobID], result)
	return result, nil
}

// CountResults returns how many result rows a job has.
func (s *MemorySink) CountResults(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results[jobID]), nil
}

// ListResults returns a job's result rows in insertion order.
func (s *MemorySink) ListResults(_ context.Context, jobID string) ([]scraper.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scraper.Result, len(s.results[jobID]))
	copy(out, s.results[jobID])
	return out, nil
}

// Product returns the committed catalog record for a SKU, if any.
func (s *MemorySink) Product(sku string) (scraper.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[NormalizeSKU(sku)]
	return p, ok
}
