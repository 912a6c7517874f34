package store

// levenshtein computes the edit distance between a and b, giving up early
// once the distance provably reaches bound. Returns bound in that case.
func levenshtein(a, b string, bound int) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	// Length difference is a lower bound on the distance
	if len(rb)-len(ra) >= bound {
		return bound
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		rowMin := curr[0]
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min3(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
			if curr[i] < rowMin {
				rowMin = curr[i]
			}
		}
		if rowMin >= bound {
			return bound
		}
		prev, curr = curr, prev
	}

	if prev[len(ra)] > bound {
		return bound
	}
	return prev[len(ra)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
