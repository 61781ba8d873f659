package audit

import "unicode/utf8"

const ellipsis = "…"

// Preview returns s cut to at most n runes, marking the cut with an ellipsis.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + ellipsis
		}
		i++
	}
	return s
}
