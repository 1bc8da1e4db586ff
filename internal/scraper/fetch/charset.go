package fetch

import (
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// metaSniffLimit bounds how far into the body the <meta charset> sniff looks.
const metaSniffLimit = 5 * 1024

var charsetAliases = map[string]string{
	"utf8":       "utf-8",
	"utf_8":      "utf-8",
	"iso8859-1":  "iso-8859-1",
	"iso_8859-1": "iso-8859-1",
	"latin1":     "iso-8859-1",
	"latin-1":    "iso-8859-1",
	"cp1252":     "windows-1252",
}

var (
	contentTypeCharsetRe = regexp.MustCompile(`(?i)charset=([^;\s]+)`)
	metaCharsetRe        = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?\s*([^"'>\s]+)`)
	metaHTTPEquivRe      = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']content-type["'][^>]*content=["'][^"']*charset=([^"'>\s]+)`)
)

func normalizeCharsetLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return ""
	}
	if alias, ok := charsetAliases[normalized]; ok {
		return alias
	}
	return normalized
}

func charsetFromContentType(header string) string {
	m := contentTypeCharsetRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return normalizeCharsetLabel(strings.Trim(m[1], `"'`))
}

func charsetFromMeta(body []byte) string {
	slice := body
	if len(slice) > metaSniffLimit {
		slice = slice[:metaSniffLimit]
	}
	if m := metaCharsetRe.FindSubmatch(slice); m != nil {
		return normalizeCharsetLabel(string(m[1]))
	}
	if m := metaHTTPEquivRe.FindSubmatch(slice); m != nil {
		return normalizeCharsetLabel(string(m[1]))
	}
	return ""
}

// decodeBody converts raw response bytes to a UTF-8 string. The charset comes
// from the Content-Type header, then a <meta> sniff over the first 5 KB,
// defaulting to UTF-8. Unknown charsets fall back to interpreting the bytes
// as UTF-8 rather than failing the fetch.
func decodeBody(body []byte, contentType string) string {
	charset := charsetFromContentType(contentType)
	if charset == "" || charset == "utf-8" {
		if meta := charsetFromMeta(body); meta != "" && meta != "utf-8" {
			charset = meta
		}
	}
	if charset == "" || charset == "utf-8" {
		return string(body)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
