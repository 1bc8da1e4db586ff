package detail

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dermosul/catalog-scraper/internal/scraper/extract"
)

var (
	// productImageRe scans raw HTML (including script payloads) for CDN
	// product-image URLs that never surface in <img> tags.
	productImageRe = regexp.MustCompile(`https://[^\s"'<>\\]+/imagens/product/[^\s"'<>\\]+`)

	videoExtRe     = regexp.MustCompile(`(?i)\.(mp4|webm|m3u8)(\?|$)`)
	productPathRe  = regexp.MustCompile(`(?i)/product/([a-z0-9_-]+)/`)
	cloudinaryRe   = regexp.MustCompile(`^(https://res\.cloudinary\.com/[^/]+)/image/upload/(?:[^/]+/)?(v\d+/.+)$`)
	gallerySelects = []string{
		"[data-gallery] img",
		".product-gallery img",
		".gallery img",
		"img[itemprop=image]",
	}
)

// galleryFromDOM collects gallery image URLs from the usual containers,
// preferring lazy-load attributes over src.
func galleryFromDOM(doc *goquery.Document, baseURL string) []string {
	var out []string
	for _, selector := range gallerySelects {
		doc.Find(selector).Each(func(_ int, img *goquery.Selection) {
			src := img.AttrOr("data-src", "")
			if src == "" {
				src = img.AttrOr("src", "")
			}
			if resolved := extract.ResolveURL(baseURL, src); resolved != "" {
				out = append(out, resolved)
			}
		})
	}
	return out
}

// galleryFromRawHTML regex-scans the page source for product CDN URLs. sku,
// when known, filters out images that belong to a different product.
func galleryFromRawHTML(rawHTML, sku string) []string {
	var out []string
	for _, match := range productImageRe.FindAllString(rawHTML, -1) {
		cleaned := sanitizeGalleryURL(match)
		if cleaned == "" {
			continue
		}
		if sku != "" && belongsToOtherSKU(cleaned, sku) {
			continue
		}
		out = append(out, cleaned)
	}
	return out
}

// sanitizeGalleryURL unescapes entities and rejects videos and embeds.
func sanitizeGalleryURL(raw string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(raw))
	cleaned = strings.Trim(cleaned, `"'`)
	if !strings.HasPrefix(cleaned, "http") {
		return ""
	}
	lower := strings.ToLower(cleaned)
	if strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be") {
		return ""
	}
	if videoExtRe.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// belongsToOtherSKU drops gallery URLs whose product path segment names a
// different SKU. Containment rather than equality keeps variant segments
// such as "abc123-2" for SKU "abc123".
func belongsToOtherSKU(imageURL, sku string) bool {
	m := productPathRe.FindStringSubmatch(imageURL)
	if m == nil {
		return false
	}
	return !strings.Contains(strings.ToLower(m[1]), strings.ToLower(sku))
}

// upscaleImage rewrites cloudinary delivery URLs to a fixed high-quality
// transform. Non-cloudinary URLs pass through unchanged.
func upscaleImage(imageURL string) string {
	m := cloudinaryRe.FindStringSubmatch(imageURL)
	if m == nil {
		return imageURL
	}
	return m[1] + "/image/upload/w_1200,f_auto,fl_progressive,q_auto:best/" + m[2]
}

// mergeImages unions image URL lists in order, dropping duplicates and
// applying the cloudinary upscale.
func mergeImages(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, raw := range list {
			img := upscaleImage(raw)
			if img == "" || seen[img] {
				continue
			}
			seen[img] = true
			out = append(out, img)
		}
	}
	return out
}
