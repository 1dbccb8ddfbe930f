// Package gdelta computes a dissimilarity score between two texts
// using sentence-level sequence alignment.
//
// The score is a float in [0, 1] where 0 means the texts are identical
// and 1 means no sentence of one text appears in the other.
// The computation is deterministic: equal inputs always produce
// equal outputs within and across runs.
package gdelta

import (
	"math"
	"strings"
	"unicode"
)

// SentenceSequenceDelta returns the dissimilarity between old and new,
// rounded to four decimal places.
func SentenceSequenceDelta(oldText, newText string) float64 {
	oldSents := SplitSentences(oldText)
	newSents := SplitSentences(newText)

	ratio := matchRatio(oldSents, newSents)
	return round4(1.0 - ratio)
}

// SplitSentences tokenizes text into sentences.
// A sentence ends at '.', '!', or '?' followed by whitespace or end of input.
// Leading and trailing whitespace is stripped from each sentence,
// and empty sentences are dropped.
func SplitSentences(text string) []string {
	var sents []string
	var b strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		atEnd := i == len(runes)-1
		if atEnd || unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(b.String()); s != "" {
				sents = append(sents, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sents = append(sents, s)
	}
	return sents
}

// matchRatio returns 2*M / T where M is the total length of matched blocks
// between a and b, and T is the combined length of both sequences.
// Two empty sequences are considered identical.
func matchRatio(a, b []string) float64 {
	t := len(a) + len(b)
	if t == 0 {
		return 1.0
	}
	m := totalMatched(a, b)
	return 2.0 * float64(m) / float64(t)
}

// totalMatched sums the sizes of all maximal matching blocks,
// found by recursively locating the longest match and searching
// the regions to its left and right.
func totalMatched(a, b []string) int {
	b2j := make(map[string][]int, len(b))
	for j, s := range b {
		b2j[s] = append(b2j[s], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}

	total := 0
	for len(queue) > 0 {
		sp := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b2j, sp.alo, sp.ahi, sp.blo, sp.bhi)
		if k == 0 {
			continue
		}
		total += k
		if sp.alo < i && sp.blo < j {
			queue = append(queue, span{sp.alo, i, sp.blo, j})
		}
		if i+k < sp.ahi && j+k < sp.bhi {
			queue = append(queue, span{i + k, sp.ahi, j + k, sp.bhi})
		}
	}
	return total
}

// longestMatch finds the longest block of equal elements
// within a[alo:ahi] and b[blo:bhi].
// Ties resolve to the earliest start in a, then the earliest start in b.
func longestMatch(a []string, b2j map[string][]int, alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo

	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newJ2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		j2len = newJ2len
	}
	return besti, bestj, bestk
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
