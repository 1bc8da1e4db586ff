// Package catalog discovers product previews on listing pages via JSON-LD
// structured data and DOM heuristics, and resolves pagination.
package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/scraper/extract"
)

// cardSelectors match the product-card containers common across the
// storefront themes this crawler targets.
var cardSelectors = []string{
	`[data-testid^="product-card"]`,
	`article[data-event*="product"]`,
	`li[data-product]`,
	`div[data-product]`,
}

// ParseDocument builds a goquery document from raw HTML.
func ParseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// ExtractPreviews returns the product previews found on a listing page.
// Structured data is preferred; DOM card heuristics fill in listings without
// JSON-LD. The result keeps document order and is not deduplicated.
func ExtractPreviews(doc *goquery.Document, baseURL string) []scraper.Preview {
	previews := previewsFromJSONLD(doc, baseURL)
	previews = append(previews, previewsFromDOM(doc, baseURL)...)
	return previews
}

func previewsFromJSONLD(doc *goquery.Document, baseURL string) []scraper.Preview {
	var out []scraper.Preview
	for _, node := range extract.JSONLDNodes(doc) {
		switch {
		case node.HasType("ItemList"):
			out = append(out, itemListPreviews(node, baseURL)...)
		case node.HasType("Product"):
			if p, ok := previewFromProductNode(node, baseURL); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func itemListPreviews(list extract.Node, baseURL string) []scraper.Preview {
	elements, ok := list["itemListElement"].([]any)
	if !ok {
		return nil
	}
	var out []scraper.Preview
	for _, el := range elements {
		entry, ok := el.(map[string]any)
		if !ok {
			continue
		}
		node := extract.Node(entry)
		// ListItem wraps the product under "item"; some sites inline the
		// product node directly.
		if item := node.Child("item"); item != nil {
			node = item
		}
		if p, ok := previewFromProductNode(node, baseURL); ok {
			out = append(out, p)
		}
	}
	return out
}

func previewFromProductNode(node extract.Node, baseURL string) (scraper.Preview, bool) {
	rawURL := node.String("url")
	if rawURL == "" {
		rawURL = node.String("@id")
	}
	resolved := extract.ResolveURL(baseURL, rawURL)
	if resolved == "" {
		return scraper.Preview{}, false
	}

	price := node.OfferPrice()
	if price == nil {
		if v, ok := node["price"]; ok {
			price = extract.CoerceFloat(v)
		}
	}

	return scraper.Preview{
		Title: node.String("name"),
		URL:   resolved,
		Price: price,
		Brand: node.BrandName(),
		SKU:   node.String("sku"),
		Raw:   map[string]any(node),
	}, true
}

func previewsFromDOM(doc *goquery.Document, baseURL string) []scraper.Preview {
	var out []scraper.Preview
	seen := make(map[*html.Node]bool)
	for _, selector := range cardSelectors {
		doc.Find(selector).Each(func(_ int, card *goquery.Selection) {
			node := card.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true
			if p, ok := previewFromCard(card, baseURL); ok {
				out = append(out, p)
			}
		})
	}
	return out
}

func previewFromCard(card *goquery.Selection, baseURL string) (scraper.Preview, bool) {
	href, _ := card.Find("a[href]").First().Attr("href")
	if href == "" {
		href, _ = card.Attr("data-url")
	}
	resolved := extract.ResolveURL(baseURL, href)
	if resolved == "" {
		return scraper.Preview{}, false
	}

	title := attrOr(card, "data-product-name")
	if title == "" {
		title = strings.TrimSpace(card.Find("h1,h2,h3,h4,.product-title,.title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(card.Find("a[href]").First().AttrOr("title", ""))
	}

	var price *float64
	if raw := attrOr(card, "data-price"); raw != "" {
		price = extract.ParsePrice(raw)
	}
	if price == nil {
		price = extract.ParsePrice(card.Find(".price,.product-price,[data-testid=price]").First().Text())
	}

	return scraper.Preview{
		Title: title,
		URL:   resolved,
		Price: price,
		Brand: attrOr(card, "data-brand"),
		SKU:   attrOr(card, "data-sku"),
	}, true
}

func attrOr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

// Deduper tracks normalized product-URL keys across a discovery run,
// preserving first-seen order.
type Deduper struct {
	seen map[string]bool
}

// NewDeduper builds an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]bool)}
}

// Admit filters previews whose normalized key has already been seen. The
// first occurrence of each key survives.
func (d *Deduper) Admit(previews []scraper.Preview) []scraper.Preview {
	var out []scraper.Preview
	for _, p := range previews {
		key := extract.NormalizeKey(p.URL)
		if key == "" || d.seen[key] {
			continue
		}
		d.seen[key] = true
		out = append(out, p)
	}
	return out
}

// Seen reports whether a URL's normalized key was already admitted.
func (d *Deduper) Seen(rawURL string) bool {
	return d.seen[extract.NormalizeKey(rawURL)]
}
