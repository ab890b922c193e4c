package normalize

import "strings"

// Handle returns a normalized form of a username suitable for
// storage and comparisons. Normalization trims surrounding
// whitespace and lower-cases the handle.
func Handle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Handles normalizes every handle and drops blanks and duplicates.
func Handles(hs ...string) []string {
	out := make([]string, 0, len(hs))
	seen := make(map[string]bool, len(hs))
	for _, h := range hs {
		n := Handle(h)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Pair returns the two normalized handles in sorted order. Handles are
// opaque, so the pair is kept as two values and never joined into one
// string.
func Pair(a, b string) (lo, hi string) {
	lo, hi = Handle(a), Handle(b)
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}
