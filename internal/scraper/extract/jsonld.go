// Package extract holds structured-data helpers shared by the catalog and
// detail extractors: JSON-LD traversal, price parsing and URL
// normalization.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is a decoded JSON-LD object.
type Node map[string]any

// JSONLDNodes decodes every <script type="application/ld+json"> block in the
// document and flattens @graph wrappers and top-level arrays into a single
// node list. Malformed blocks are skipped.
func JSONLDNodes(doc *goquery.Document) []Node {
	var nodes []Node
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return
		}
		nodes = append(nodes, flatten(decoded)...)
	})
	return nodes
}

func flatten(v any) []Node {
	switch t := v.(type) {
	case []any:
		var out []Node
		for _, item := range t {
			out = append(out, flatten(item)...)
		}
		return out
	case map[string]any:
		node := Node(t)
		out := []Node{node}
		if graph, ok := node["@graph"]; ok {
			out = append(out, flatten(graph)...)
		}
		return out
	default:
		return nil
	}
}

// HasType reports whether the node's @type matches want. @type may be a
// string or an array of strings.
func (n Node) HasType(want string) bool {
	switch t := n["@type"].(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

// String returns the node's value for key when it is a non-empty string.
func (n Node) String(key string) string {
	if s, ok := n[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Child returns a nested object value, unwrapping a single-element array.
func (n Node) Child(key string) Node {
	switch t := n[key].(type) {
	case map[string]any:
		return Node(t)
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return Node(m)
			}
		}
	}
	return nil
}

// Strings collects string values for key, flattening a single string or an
// array of strings and objects with a "url" field.
func (n Node) Strings(key string) []string {
	switch t := n[key].(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range t {
			switch v := item.(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s := Node(v).String("url"); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case map[string]any:
		if s := Node(t).String("url"); s != "" {
			return []string{s}
		}
	}
	return nil
}

// BrandName resolves the node's brand, which may be a plain string or an
// object carrying a name.
func (n Node) BrandName() string {
	switch t := n["brand"].(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return Node(t).String("name")
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return Node(m).String("name")
			}
			if s, ok := t[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// OfferPrice resolves offers.price (or offers.lowPrice for aggregate
// offers), accepting numeric and string encodings.
func (n Node) OfferPrice() *float64 {
	offers := n.Child("offers")
	if offers == nil {
		return nil
	}
	for _, key := range []string{"price", "lowPrice"} {
		if p := CoerceFloat(offers[key]); p != nil {
			return p
		}
	}
	return nil
}
