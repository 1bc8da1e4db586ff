package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var priceDigitsRe = regexp.MustCompile(`[\d.,]+`)

// ParsePrice extracts a monetary value from free text such as "R$ 1.234,56"
// or "89.90". Brazilian formatting (dot thousands, comma decimals) is
// detected by the last separator present.
func ParsePrice(text string) *float64 {
	m := priceDigitsRe.FindString(text)
	if m == "" {
		return nil
	}
	m = strings.Trim(m, ".,")

	lastComma := strings.LastIndex(m, ",")
	lastDot := strings.LastIndex(m, ".")
	switch {
	case lastComma > lastDot:
		m = strings.ReplaceAll(m, ".", "")
		m = strings.Replace(m, ",", ".", 1)
	case lastDot > lastComma:
		m = strings.ReplaceAll(m, ",", "")
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// CoerceFloat accepts JSON numbers and numeric strings.
func CoerceFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return &t
		}
	case string:
		return ParsePrice(t)
	}
	return nil
}
