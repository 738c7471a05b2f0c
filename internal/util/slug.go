package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugInvalid   = regexp.MustCompile(`[^a-z0-9-]+`)
	slugHyphenRun = regexp.MustCompile(`-{2,}`)
)

// Slugify lower-cases s, strips accents and joins words with hyphens.
// "Mentions légales" becomes "mentions-legales".
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	result = strings.ToLower(strings.TrimSpace(result))
	result = strings.Join(strings.FieldsFunc(result, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '/'
	}), "-")
	result = slugInvalid.ReplaceAllString(result, "")
	result = slugHyphenRun.ReplaceAllString(result, "-")
	return strings.Trim(result, "-")
}

// IsValidSlug reports whether s is already in normalized form.
func IsValidSlug(s string) bool {
	return s != "" && Slugify(s) == s
}
