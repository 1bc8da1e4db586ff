package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

type stubModel struct {
	response string
	err      error
	calls    int
}

func (s *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.response}}}, nil
}

func (s *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return s.response, s.err
}

func TestHeuristicCategories(t *testing.T) {
	got := HeuristicCategories(ClassifyText{Title: "Protetor Solar FPS 60", ShortDescription: "proteção diária"})
	require.Contains(t, got, "Proteção")

	got = HeuristicCategories(ClassifyText{Title: "Sérum com ácido hialurônico"})
	require.Contains(t, got, "Tratamento")
	require.Contains(t, got, "Hidratação")

	// No keyword hit but text mentions skin.
	got = HeuristicCategories(ClassifyText{Title: "Produto novo", LongDescription: "<p>bom para sua pele</p>"})
	require.Equal(t, []string{"Tratamento"}, got)

	require.Empty(t, HeuristicCategories(ClassifyText{Title: "Escova de cabelo"}))
}

func TestNormalizeCategory(t *testing.T) {
	c, ok := NormalizeCategory("hidratação")
	require.True(t, ok)
	require.Equal(t, "Hidratação", c)

	_, ok = NormalizeCategory("Maquiagem")
	require.False(t, ok)
}

func TestLLMClassifierParsesContract(t *testing.T) {
	model := &stubModel{response: `{"produtos":{"p1":["Limpeza"],"p2":["Proteção","Prevenção"]}}`}
	c := NewLLMClassifierWithModel(model, zap.NewNop())

	got, err := c.ClassifyBatch(context.Background(), []scraper.ClassifyInput{
		{ID: "p1", Title: "Gel de Limpeza"},
		{ID: "p2", Title: "Protetor Solar"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Limpeza"}, got["p1"])
	require.Equal(t, []string{"Proteção", "Prevenção"}, got["p2"])
	require.Equal(t, 1, model.calls)
}

func TestLLMClassifierDiscardsUnknownLabels(t *testing.T) {
	model := &stubModel{response: `{"produtos":{"p1":["Maquiagem","Hidratação","Hidratação"]}}`}
	c := NewLLMClassifierWithModel(model, zap.NewNop())

	got, err := c.ClassifyBatch(context.Background(), []scraper.ClassifyInput{{ID: "p1", Title: "Creme"}})
	require.NoError(t, err)
	require.Equal(t, []string{"Hidratação"}, got["p1"])
}

func TestLLMClassifierFallsBackOnError(t *testing.T) {
	model := &stubModel{err: errors.New("rate limited")}
	c := NewLLMClassifierWithModel(model, zap.NewNop())

	got, err := c.ClassifyBatch(context.Background(), []scraper.ClassifyInput{
		{ID: "p1", Title: "Protetor Solar FPS 30"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Proteção"}, got["p1"])
}

func TestLLMClassifierHeuristicForMissingIDs(t *testing.T) {
	model := &stubModel{response: `{"produtos":{"p1":["Limpeza"]}}`}
	c := NewLLMClassifierWithModel(model, zap.NewNop())

	got, err := c.ClassifyBatch(context.Background(), []scraper.ClassifyInput{
		{ID: "p1", Title: "Sabonete"},
		{ID: "p2", Title: "Hidratante corporal"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Limpeza"}, got["p1"])
	require.Equal(t, []string{"Hidratação"}, got["p2"])
}

type recordingClassifier struct {
	batches [][]scraper.ClassifyInput
}

func (r *recordingClassifier) ClassifyBatch(ctx context.Context, inputs []scraper.ClassifyInput) (map[string][]string, error) {
	r.batches = append(r.batches, inputs)
	out := make(map[string][]string, len(inputs))
	for _, in := range inputs {
		out[in.ID] = []string{"Tratamento"}
	}
	return out, nil
}

func TestBatcherFlushesAtThresholdAndPreservesOrder(t *testing.T) {
	classifier := &recordingClassifier{}
	var emitted []string
	b := NewBatcher(classifier, 3, func(_ context.Context, p scraper.Product) error {
		emitted = append(emitted, p.Title)
		return nil
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, b.Add(ctx, scraper.Product{Title: fmt.Sprintf("Produto %d", i)}))
	}
	require.Len(t, classifier.batches, 2)
	require.Len(t, emitted, 6)

	require.NoError(t, b.Finalize(ctx))
	require.Len(t, classifier.batches, 3)
	require.Len(t, classifier.batches[2], 1)

	for i, title := range emitted {
		require.Equal(t, fmt.Sprintf("Produto %d", i), title)
	}
}

func TestBatcherFinalizeEmptyIsNoop(t *testing.T) {
	classifier := &recordingClassifier{}
	b := NewBatcher(classifier, 3, func(context.Context, scraper.Product) error { return nil }, zap.NewNop())
	require.NoError(t, b.Finalize(context.Background()))
	require.Empty(t, classifier.batches)
}

func TestBatcherAttachesCategories(t *testing.T) {
	classifier := &recordingClassifier{}
	var got scraper.Product
	b := NewBatcher(classifier, 1, func(_ context.Context, p scraper.Product) error {
		got = p
		return nil
	}, zap.NewNop())

	require.NoError(t, b.Add(context.Background(), scraper.Product{Title: "Sérum"}))
	require.Equal(t, []string{"Tratamento"}, got.Categories)
}
