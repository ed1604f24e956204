package datasets

import (
	"regexp"
	"strings"
)

var spaces = regexp.MustCompile(`\s+`)

// NormalizeSKU upper-cases a SKU and joins inner whitespace with dashes.
func NormalizeSKU(s string) string {
	return spaces.ReplaceAllString(strings.ToUpper(strings.TrimSpace(s)), "-")
}

// NormalizeCode lower-cases a category code.
func NormalizeCode(s string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
}

// NormalizeEmail lower-cases an address and strips a mailto: prefix.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "mailto:")
}
