package rules

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose. Vendor exports localized for European markets carry
// accented column headers ("Catégorie") that must match their ASCII
// canonical names.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a field name for comparison: fold diacritics,
// lowercase, and strip underscores, dashes, dots, and spaces.
func Normalize(field string) string {
	folded, _, err := transform.String(foldTransformer, field)
	if err != nil {
		folded = field
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
