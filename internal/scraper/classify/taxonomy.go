// Package classify assigns products to the closed dermocosmetics taxonomy,
// batching LLM calls with a keyword heuristic as fallback.
package classify

import (
	"regexp"
	"strings"
)

// Categories is the closed label set. LLM responses are normalized against
// it; anything else is discarded.
var Categories = []string{
	"Tratamento",
	"Limpeza",
	"Hidratação",
	"Proteção",
	"Prevenção",
	"Correção",
	"Reparação",
}

// categoryKeywords drives the heuristic fallback. Matching is
// case-insensitive substring search over the product's combined text.
var categoryKeywords = map[string][]string{
	"Tratamento": {"tratamento", "sérum", "serum", "ácido", "acido", "retinol", "vitamina c", "niacinamida", "peeling"},
	"Limpeza":    {"limpeza", "sabonete", "demaquilante", "micelar", "esfoliante", "cleanser", "gel de limpeza"},
	"Hidratação": {"hidratante", "hidratação", "hidratacao", "umectante", "ceramida", "hyaluronic", "hialurônico", "hialuronico"},
	"Proteção":   {"protetor solar", "proteção", "protecao", "fps", "uva", "uvb", "sunscreen"},
	"Prevenção":  {"prevenção", "prevencao", "antissinais", "anti-idade", "antioxidante", "preventivo"},
	"Correção":   {"correção", "correcao", "corretivo", "manchas", "clareador", "despigmentante", "acne"},
	"Reparação":  {"reparação", "reparacao", "reparador", "cicatrizante", "regenerador", "pós-procedimento", "pos-procedimento"},
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

var canonical = buildCanonical()

func buildCanonical() map[string]string {
	m := make(map[string]string, len(Categories))
	for _, c := range Categories {
		m[normalizeLabel(c)] = c
	}
	return m
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// NormalizeCategory maps a free-form label onto the closed set, returning
// false for labels outside it.
func NormalizeCategory(label string) (string, bool) {
	c, ok := canonical[normalizeLabel(label)]
	return c, ok
}

// HeuristicCategories classifies by keyword matching over the product's
// title, brand and descriptions. HTML tags are stripped before matching.
// When nothing matches, text mentioning skin falls back to Tratamento.
func HeuristicCategories(in ClassifyText) []string {
	haystack := strings.ToLower(tagRe.ReplaceAllString(
		strings.Join([]string{in.Title, in.Brand, in.ShortDescription, in.LongDescription}, " "), " "))

	var out []string
	for _, category := range Categories {
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(haystack, kw) {
				out = append(out, category)
				break
			}
		}
	}
	if len(out) == 0 && strings.Contains(haystack, "pele") {
		out = append(out, "Tratamento")
	}
	return out
}

// ClassifyText is the free-text view of a product used for matching.
type ClassifyText struct {
	Title            string
	Brand            string
	ShortDescription string
	LongDescription  string
}
