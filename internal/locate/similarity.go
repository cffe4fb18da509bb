package locate

import "github.com/pmezard/go-difflib/difflib"

// Similarity is the Ratcliff/Obershelp ratio 2*M/T over the runes of a
// and b, in [0, 1]. Two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return difflib.NewMatcher(runeStrings(a), runeStrings(b)).Ratio()
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
