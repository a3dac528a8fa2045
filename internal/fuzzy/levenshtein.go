package fuzzy

// Levenshtein computes the classic edit distance between a and b using a
// space-optimized two-row dynamic program. The shorter string drives the
// inner loop dimension, so memory use is O(min(|a|,|b|)).
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for i := 1; i <= len(rb); i++ {
		curr[0] = i
		for j := 1; j <= len(ra); j++ {
			cost := 1
			if rb[i-1] == ra[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// Similarity maps edit distance to a 0-100 score:
// 100 * (1 - distance / max(|a|,|b|)). Identical strings score 100; an empty
// string against a non-empty string scores 0; two empty strings score 100
// (vacuously identical).
func Similarity(a, b string) float64 {
	if a == b {
		return 100
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	dist := Levenshtein(a, b)
	score := 100 * (1 - float64(dist)/float64(maxLen))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
