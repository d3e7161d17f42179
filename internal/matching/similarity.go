package matching

import "strings"

const (
	initialScore   = 0.8
	fuzzyThreshold = 0.88
)

// NameSimilarity aligns the tokens of two names greedily and returns the sum
// of pair scores divided by the longer token count.
func NameSimilarity(a, b string) float64 {
	return tokenSimilarity(Tokens(a), Tokens(b))
}

func tokenSimilarity(query, candidate []string) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	used := make([]bool, len(candidate))
	total := 0.0
	for _, q := range query {
		best, bestIdx := 0.0, -1
		for i, c := range candidate {
			if used[i] {
				continue
			}
			if s := tokenScore(q, c); s > best {
				best, bestIdx = s, i
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			total += best
		}
	}
	return total / float64(max(len(query), len(candidate)))
}

func tokenScore(a, b string) float64 {
	if a == b {
		return 1
	}
	if isInitialOf(a, b) || isInitialOf(b, a) {
		return initialScore
	}
	if jw := JaroWinkler(a, b); jw >= fuzzyThreshold {
		return jw
	}
	return 0
}

func isInitialOf(initial, word string) bool {
	r := []rune(initial)
	return len(r) == 1 && len([]rune(word)) > 1 && strings.HasPrefix(word, initial)
}

// InstitutionSimilarity is 1 for equal normalized institutions, 0.5 when the
// tokens of one appear contiguously in the other, else 0.
func InstitutionSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(" "+na+" ", " "+nb+" ") || strings.Contains(" "+nb+" ", " "+na+" ") {
		return 0.5
	}
	return 0
}

// KeywordOverlap returns the number of query keywords the candidate shares.
func KeywordOverlap(query, candidate map[string]struct{}) int {
	n := 0
	for k := range query {
		if _, ok := candidate[k]; ok {
			n++
		}
	}
	return n
}

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1].
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(len(b), i+window+1)
		for j := lo; j < hi; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i], bMatched[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions, k := 0, 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}
