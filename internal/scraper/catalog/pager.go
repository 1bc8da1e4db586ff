package catalog

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dermosul/catalog-scraper/internal/scraper/extract"
)

var nextTextRe = regexp.MustCompile(`(?i)^\s*(pr[oó]xima(\s+p[aá]gina)?|pr[oó]ximo|next|seguinte|>|»)\s*$`)

// NextPageURL resolves the listing's next-page link: rel=next first, then
// anchors whose visible text reads like a "next" control. Returns "" when the
// page has no successor.
func NextPageURL(doc *goquery.Document, baseURL string) string {
	if href, ok := doc.Find(`link[rel="next"]`).First().Attr("href"); ok {
		if resolved := extract.ResolveURL(baseURL, href); resolved != "" {
			return resolved
		}
	}
	if href, ok := doc.Find(`a[rel="next"]`).First().Attr("href"); ok {
		if resolved := extract.ResolveURL(baseURL, href); resolved != "" {
			return resolved
		}
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.TrimSpace(a.Text())
		if text == "" {
			text = strings.TrimSpace(a.AttrOr("aria-label", ""))
		}
		if !nextTextRe.MatchString(text) {
			return true
		}
		href, _ := a.Attr("href")
		if resolved := extract.ResolveURL(baseURL, href); resolved != "" {
			found = resolved
			return false
		}
		return true
	})
	return found
}
