package audit

import (
	"strings"
)

const (
	maxSlugLen  = 80
	defaultSlug = "nlq"
)

// Slug derives the per-question file name from the question text: lower-cased,
// whitespace runs collapsed to "_", anything outside [a-z0-9_-] dropped and
// capped at 80 characters.
func Slug(question string) string {
	joined := strings.Join(strings.Fields(strings.ToLower(question)), "_")

	var b strings.Builder
	b.Grow(min(len(joined), maxSlugLen))
	for _, r := range joined {
		if b.Len() == maxSlugLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return defaultSlug
	}
	return b.String()
}
