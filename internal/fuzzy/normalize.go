package fuzzy

import "strings"

// Normalize applies the single normalization pinned across sanctions
// ingestion and screening (spec §9 "Normalization coupling"): uppercase,
// strip punctuation, collapse whitespace. Any drift between ingestion and
// screening silently breaks score comparability, so this is the one
// function both call.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastWasSpace := false
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasSpace = false
		case r == ' ', r == '\t', r == '\n', r == '\r':
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// punctuation and everything else is stripped, not replaced
			// with a separator, so "O'BRIEN" normalizes to "OBRIEN".
		}
	}
	return strings.TrimSpace(b.String())
}
