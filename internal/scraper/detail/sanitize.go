package detail

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var brandingRe = regexp.MustCompile(`(?i)\bBLZ\b`)

// descriptionPolicy is the allow-list for long-description HTML. Links keep
// their targets but are forced to nofollow/noreferrer and open in a new tab.
var descriptionPolicy = buildDescriptionPolicy()

func buildDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "strong", "em", "ul", "ol", "li", "h1", "h2", "h3", "blockquote", "img", "span", "a", "br")
	p.AllowAttrs("href", "title", "target", "rel").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowAttrs("style", "class").Globally()
	p.AllowStandardURLs()
	p.AllowRelativeURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// SanitizeDescription strips everything outside the allowed tag set and
// normalizes link attributes.
func SanitizeDescription(html string) string {
	return strings.TrimSpace(descriptionPolicy.Sanitize(html))
}

// ReplaceBranding rewrites the legacy store token to the current brand in
// free text.
func ReplaceBranding(text string) string {
	return brandingRe.ReplaceAllString(text, "Dermosul")
}
