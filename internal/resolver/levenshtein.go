package resolver

import "github.com/visioncortex/cortex/internal/domain"

func normalizeForMatch(s string) string {
	return domain.NormalizeAlias(s)
}

// levenshtein computes the classic edit distance between a and b
// using the iterative two-row dynamic-programming form.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
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

// nameSimilarity implements spec.md §4.D step 3: 1 - Levenshtein(a,b)/max(|a|,|b|),
// computed after normalization. Two empty strings are defined as
// dissimilar (0), since an empty name can never be a meaningful match.
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeForMatch(a), normalizeForMatch(b)
	maxLen := len([]rune(na))
	if len([]rune(nb)) > maxLen {
		maxLen = len([]rune(nb))
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein(na, nb)
	return 1 - float64(dist)/float64(maxLen)
}
