// Package normalize canonicalizes free-text provider names against the
// registry via exact, regulator-ID, fuzzy, and substring resolution.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists entity suffixes stripped during name cleaning.
// Utility-specific suffixes (co-op, PUD, etc.) are kept: they carry signal
// for operator classification.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" CO", " CO.", " COMPANY",
	" PLC", " P.L.C.",
	" DBA", " D/B/A",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Clean standardizes a provider name for matching: trims, folds diacritics,
// uppercases, strips legal suffixes and punctuation, collapses whitespace.
func Clean(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(deaccent, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
		"/", " ",
		"(", " ",
		")", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// StripSuffix removes a trailing legal suffix while preserving the original
// casing. Used for passthrough display names.
func StripSuffix(name string) string {
	name = strings.TrimSpace(multiSpaceRe.ReplaceAllString(name, " "))
	upper := strings.ToUpper(name)
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return strings.TrimSpace(strings.TrimRight(name[:len(name)-len(suffix)], " ,."))
		}
	}
	return strings.TrimRight(name, " ,.")
}

// Tokens splits a cleaned name into its word tokens.
func Tokens(cleaned string) []string {
	return strings.Fields(cleaned)
}
