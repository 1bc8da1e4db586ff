// Package detail extracts a full product record from a product page,
// merging JSON-LD structured data, DOM heuristics and a raw-HTML gallery
// scan, with the catalog preview as the final fallback.
package detail

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/scraper/extract"
)

var descriptionSelectors = []string{
	"[itemprop=description]",
	"#descricao",
	"#description",
	".descricao",
	".description",
	".product-description",
	".tab-content",
	".product-info",
	"article",
}

var shortDescriptionSelectors = []string{
	".short-description",
	".resumo",
	".summary",
}

var attributeContainerSelectors = []string{
	"[data-specs]",
	".product-attributes",
	".characteristics",
}

// Extract parses a product page and merges every available source into a
// single record. Fields are filled first-non-empty: structured data wins,
// then DOM heuristics, then the catalog preview. Extract never fails; an
// unusable page yields a record carrying only the preview fields.
func Extract(rawHTML string, preview scraper.Preview) scraper.Product {
	product := scraper.Product{
		Title:     preview.Title,
		Brand:     preview.Brand,
		Price:     preview.Price,
		SKU:       preview.SKU,
		DetailURL: preview.URL,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return product
	}

	structured := fromJSONLD(doc)
	dom := fromDOM(doc, preview.URL)

	product.Title = firstNonEmpty(structured.Title, dom.Title, preview.Title)
	product.Brand = firstNonEmpty(structured.Brand, dom.Brand, preview.Brand)
	product.SKU = firstNonEmpty(structured.SKU, dom.SKU, preview.SKU)
	if structured.Price != nil {
		product.Price = structured.Price
	} else if dom.Price != nil {
		product.Price = dom.Price
	}

	product.ShortDescription = ReplaceBranding(firstNonEmpty(structured.ShortDescription, dom.ShortDescription))
	longHTML := firstNonEmpty(structured.LongDescriptionHTML, dom.LongDescriptionHTML)
	product.LongDescriptionHTML = ReplaceBranding(SanitizeDescription(longHTML))

	product.Attributes = mergeAttributes(structured.Attributes, dom.Attributes)
	product.Images = mergeImages(
		absolutize(structured.Images, preview.URL),
		dom.Images,
		galleryFromRawHTML(rawHTML, product.SKU),
	)
	product.Raw = structured.Raw
	if product.Raw == nil {
		product.Raw = preview.Raw
	}
	return product
}

// partial holds one source's contribution before merging.
type partial struct {
	Title               string
	Brand               string
	SKU                 string
	Price               *float64
	ShortDescription    string
	LongDescriptionHTML string
	Attributes          map[string]string
	Images              []string
	Raw                 map[string]any
}

func fromJSONLD(doc *goquery.Document) partial {
	for _, node := range extract.JSONLDNodes(doc) {
		if !node.HasType("Product") {
			continue
		}
		p := partial{
			Title:               node.String("name"),
			Brand:               node.BrandName(),
			SKU:                 node.String("sku"),
			Price:               node.OfferPrice(),
			LongDescriptionHTML: node.String("description"),
			Images:              node.Strings("image"),
			Raw:                 map[string]any(node),
		}
		if props, ok := node["additionalProperty"].([]any); ok {
			p.Attributes = make(map[string]string)
			for _, raw := range props {
				prop, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				n := extract.Node(prop)
				name := n.String("name")
				value := n.String("value")
				if value == "" {
					if f := extract.CoerceFloat(prop["value"]); f != nil {
						value = formatFloat(*f)
					}
				}
				if name != "" && value != "" {
					p.Attributes[name] = value
				}
			}
		}
		return p
	}
	return partial{}
}

func fromDOM(doc *goquery.Document, baseURL string) partial {
	p := partial{
		Title:  strings.TrimSpace(doc.Find("h1").First().Text()),
		Price:  priceFromDOM(doc),
		Images: galleryFromDOM(doc, baseURL),
	}
	p.Brand = strings.TrimSpace(doc.Find("[itemprop=brand],.product-brand,.brand").First().Text())
	p.SKU = strings.TrimSpace(doc.Find("[itemprop=sku],[data-sku]").First().AttrOr("data-sku",
		doc.Find("[itemprop=sku]").First().Text()))

	for _, selector := range descriptionSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if htmlText, err := sel.Html(); err == nil && strings.TrimSpace(sel.Text()) != "" {
			p.LongDescriptionHTML = htmlText
			break
		}
	}

	for _, selector := range shortDescriptionSelectors {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			p.ShortDescription = text
			break
		}
	}
	if p.ShortDescription == "" {
		p.ShortDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	}

	p.Attributes = attributesFromDOM(doc)
	return p
}

func priceFromDOM(doc *goquery.Document) *float64 {
	sel := doc.Find(`[itemprop=price],.price,.product-price`).First()
	if content := sel.AttrOr("content", ""); content != "" {
		if p := extract.ParsePrice(content); p != nil {
			return p
		}
	}
	return extract.ParsePrice(sel.Text())
}

// attributesFromDOM reads spec tables in their usual shapes: two-column
// tables, definition lists and labeled attribute containers.
func attributesFromDOM(doc *goquery.Document) map[string]string {
	attrs := make(map[string]string)

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th,td")
		if cells.Length() < 2 {
			return
		}
		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if key != "" && value != "" {
			setIfAbsent(attrs, key, value)
		}
	})

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		terms := dl.Find("dt")
		values := dl.Find("dd")
		for i := 0; i < terms.Length() && i < values.Length(); i++ {
			key := strings.TrimSpace(terms.Eq(i).Text())
			value := strings.TrimSpace(values.Eq(i).Text())
			if key != "" && value != "" {
				setIfAbsent(attrs, key, value)
			}
		}
	})

	for _, selector := range attributeContainerSelectors {
		doc.Find(selector).Find("li,p,div").Each(func(_ int, item *goquery.Selection) {
			if item.Children().Length() > 0 {
				return
			}
			text := strings.TrimSpace(item.Text())
			key, value, ok := strings.Cut(text, ":")
			if !ok {
				return
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if key != "" && value != "" {
				setIfAbsent(attrs, key, value)
			}
		})
	}

	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func mergeAttributes(primary, secondary map[string]string) map[string]string {
	if len(primary) == 0 && len(secondary) == 0 {
		return nil
	}
	out := make(map[string]string, len(primary)+len(secondary))
	for k, v := range secondary {
		out[k] = v
	}
	for k, v := range primary {
		out[k] = v
	}
	return out
}

func absolutize(urls []string, base string) []string {
	var out []string
	for _, u := range urls {
		if resolved := extract.ResolveURL(base, u); resolved != "" {
			out = append(out, resolved)
		}
	}
	return out
}

func setIfAbsent(m map[string]string, key, value string) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
