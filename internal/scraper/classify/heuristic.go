package classify

import (
	"context"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

// HeuristicClassifier implements scraper.Classifier with keyword matching
// only. It is the fallback when no LLM credentials are configured.
type HeuristicClassifier struct{}

// NewHeuristicClassifier builds the keyword-only classifier.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

// ClassifyBatch assigns categories to every input by keyword matching.
func (h *HeuristicClassifier) ClassifyBatch(_ context.Context, inputs []scraper.ClassifyInput) (map[string][]string, error) {
	out := make(map[string][]string, len(inputs))
	for _, in := range inputs {
		out[in.ID] = HeuristicCategories(ClassifyText{
			Title:            in.Title,
			Brand:            in.Brand,
			ShortDescription: in.ShortDescription,
			LongDescription:  in.LongDescription,
		})
	}
	return out, nil
}
