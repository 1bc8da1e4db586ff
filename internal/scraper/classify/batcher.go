package classify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

// DefaultBatchSize is how many products accumulate before a classification
// call fires.
const DefaultBatchSize = 10

type pending struct {
	product scraper.Product
	input   scraper.ClassifyInput
}

// Batcher buffers extracted products, classifies them in batches and emits
// them, categories attached, in the order they arrived. Not safe for
// concurrent use; the runner feeds it from a single goroutine.
type Batcher struct {
	classifier scraper.Classifier
	emit       func(ctx context.Context, product scraper.Product) error
	size       int
	logger     *zap.Logger

	buffer []pending
	serial int
}

// NewBatcher builds a Batcher that hands classified products to emit.
func NewBatcher(classifier scraper.Classifier, size int, emit func(ctx context.Context, product scraper.Product) error, logger *zap.Logger) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{classifier: classifier, emit: emit, size: size, logger: logger}
}

// Add buffers a product, flushing when the batch threshold is reached.
func (b *Batcher) Add(ctx context.Context, product scraper.Product) error {
	b.serial++
	id := fmt.Sprintf("p%d", b.serial)
	b.buffer = append(b.buffer, pending{
		product: product,
		input: scraper.ClassifyInput{
			ID:               id,
			Title:            product.Title,
			Brand:            product.Brand,
			ShortDescription: product.ShortDescription,
			LongDescription:  product.LongDescriptionHTML,
			DetailURL:        product.DetailURL,
		},
	})
	if len(b.buffer) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

// Finalize flushes any residual partial batch.
func (b *Batcher) Finalize(ctx context.Context) error {
	return b.flush(ctx)
}

func (b *Batcher) flush(ctx context.Context) error {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := b.buffer
	b.buffer = nil

	inputs := make([]scraper.ClassifyInput, len(batch))
	for i, p := range batch {
		inputs[i] = p.input
	}

	categories, err := b.classifier.ClassifyBatch(ctx, inputs)
	if err != nil {
		// The classifier already falls back internally; an error here means
		// even the fallback path broke. Emit unclassified rather than drop.
		b.logger.Error("classification batch failed, emitting unclassified", zap.Int("batch", len(batch)), zap.Error(err))
		categories = map[string][]string{}
	}

	for _, p := range batch {
		p.product.Categories = categories[p.input.ID]
		if err := b.emit(ctx, p.product); err != nil {
			return fmt.Errorf("emit %q: %w", p.product.Title, err)
		}
	}
	return nil
}
