package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

const systemPrompt = `Você é um classificador de produtos dermocosméticos.
Classifique cada produto em uma ou mais categorias desta lista fechada:
Tratamento, Limpeza, Hidratação, Proteção, Prevenção, Correção, Reparação.
Responda somente com JSON no formato:
{"produtos": {"<id>": ["<Categoria>", ...]}}
Use exatamente os nomes das categorias da lista. Não invente categorias.`

// batchResponse is the JSON contract the model must return.
type batchResponse struct {
	Produtos map[string][]string `json:"produtos"`
}

// LLMClassifier classifies product batches with a chat model, falling back
// to the keyword heuristic per product when the call fails or omits ids.
type LLMClassifier struct {
	model  llms.Model
	logger *zap.Logger
}

// NewLLMClassifier builds a classifier backed by the OpenAI-compatible API.
// The API key comes from the environment per langchaingo convention.
func NewLLMClassifier(modelName string, logger *zap.Logger) (*LLMClassifier, error) {
	model, err := openai.New(openai.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return &LLMClassifier{model: model, logger: logger}, nil
}

// NewLLMClassifierWithModel wires an existing model, used by tests.
func NewLLMClassifierWithModel(model llms.Model, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{model: model, logger: logger}
}

// ClassifyBatch returns categories per input id. Every input id is present
// in the result; ids the model misses get heuristic categories.
func (c *LLMClassifier) ClassifyBatch(ctx context.Context, inputs []scraper.ClassifyInput) (map[string][]string, error) {
	if len(inputs) == 0 {
		return map[string][]string{}, nil
	}

	out := make(map[string][]string, len(inputs))
	parsed, err := c.callModel(ctx, inputs)
	if err != nil {
		c.logger.Warn("llm classification failed, using keyword heuristic", zap.Int("batch", len(inputs)), zap.Error(err))
		parsed = nil
	}

	for _, in := range inputs {
		categories := normalizeLabels(parsed[in.ID])
		if len(categories) == 0 {
			categories = HeuristicCategories(ClassifyText{
				Title:            in.Title,
				Brand:            in.Brand,
				ShortDescription: in.ShortDescription,
				LongDescription:  in.LongDescription,
			})
		}
		out[in.ID] = categories
	}
	return out, nil
}

func (c *LLMClassifier) callModel(ctx context.Context, inputs []scraper.ClassifyInput) (map[string][]string, error) {
	var sb strings.Builder
	sb.WriteString("Produtos:\n")
	for _, in := range inputs {
		entry := map[string]string{
			"id":     in.ID,
			"titulo": in.Title,
			"marca":  in.Brand,
		}
		if in.ShortDescription != "" {
			entry["resumo"] = truncate(in.ShortDescription, 300)
		}
		if in.LongDescription != "" {
			entry["descricao"] = truncate(tagRe.ReplaceAllString(in.LongDescription, " "), 600)
		}
		line, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("marshal product entry: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	resp, err := c.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, sb.String()),
		},
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty llm response")
	}

	var decoded batchResponse
	content := strings.TrimSpace(resp.Choices[0].Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	return decoded.Produtos, nil
}

func normalizeLabels(labels []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, label := range labels {
		c, ok := NormalizeCategory(label)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
