package normalize

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity returns a 0..1 token-aware similarity between two cleaned
// names. It is the max of a plain edit-distance ratio and a token-sorted
// ratio, so word reordering ("CITY OF AUSTIN" vs "AUSTIN CITY") is not
// penalized.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	plain := ratio(a, b)
	sorted := ratio(tokenSort(a), tokenSort(b))
	if sorted > plain {
		return sorted
	}
	return plain
}

func ratio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func tokenSort(s string) string {
	toks := strings.Fields(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}
