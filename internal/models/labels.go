package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLabel folds a label for comparison across systems: lower case,
// trimmed, accents removed, whitespace runs replaced by underscores.
// "Negociação" and "negociacao" normalize to the same value.
func NormalizeLabel(label string) string {
	s := strings.TrimSpace(strings.ToLower(label))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return whitespaceRun.ReplaceAllString(folded, "_")
}
