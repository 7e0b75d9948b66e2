package toolstore

// similarityRatio ports Python's difflib.SequenceMatcher(None, a,
// b).ratio(): 2*M / T where M is the total length of matching blocks
// found by repeatedly taking the longest common (contiguous) substring
// and recursing on the unmatched remainders, and T is len(a)+len(b).
func similarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	m := matchedLength(a, b)
	return 2.0 * float64(m) / float64(len(a)+len(b))
}

func matchedLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size + matchedLength(a[:ai], b[:bi]) + matchedLength(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring returns the start indices and length of the
// longest contiguous common substring of a and b (first found, leftmost
// on ties, matching difflib's behavior of preferring earlier matches).
func longestCommonSubstring(a, b string) (ai, bi, size int) {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	best := 0
	bestAI, bestBI := 0, 0
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
					bestAI = i - best
					bestBI = j - best
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
		for j := range curr {
			curr[j] = 0
		}
	}
	return bestAI, bestBI, best
}
