// Package fuzzy reconciles free-text values against canonical names using
// normalized Levenshtein similarity.
//
// Similarity is (maxLen - distance) / maxLen over runes after NFKC
// normalization, trimming and case folding, so identical strings score 1.
// A best match is only reported when it scores above MinScore; callers apply
// their own, stricter acceptance threshold on top.
//
// When several candidates share the top score the first one in candidate
// order wins. Callers that need stable results must pass candidates in a
// stable order.
package fuzzy

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// MinScore is the floor a candidate must exceed to be returned at all.
const MinScore = 0.5

// Match is a candidate together with its similarity to the input.
type Match struct {
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

// Normalize folds s into the form used for comparison.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

// Similarity returns the normalized Levenshtein similarity of a and b in [0,1].
func Similarity(a, b string) float64 {
	return similarity(Normalize(a), Normalize(b))
}

func similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-dist) / float64(maxLen)
}

// FindBestMatch returns the highest scoring candidate if it scores above
// MinScore. Empty input never matches.
func FindBestMatch(input string, candidates []string) (Match, bool) {
	return NewIndex(candidates).Best(input)
}

// Index holds pre-normalized candidates for repeated matching.
type Index struct {
	names      []string
	normalized []string
}

// NewIndex builds an index over candidates, keeping their order.
func NewIndex(candidates []string) *Index {
	idx := &Index{
		names:      make([]string, len(candidates)),
		normalized: make([]string, len(candidates)),
	}
	copy(idx.names, candidates)
	for i, c := range candidates {
		idx.normalized[i] = Normalize(c)
	}
	return idx
}

// Len reports the number of candidates.
func (idx *Index) Len() int { return len(idx.names) }

// Best returns the top candidate for input when it scores above MinScore.
func (idx *Index) Best(input string) (Match, bool) {
	in := Normalize(input)
	if in == "" {
		return Match{}, false
	}

	best := Match{Score: -1}
	for i, cand := range idx.normalized {
		score := similarity(in, cand)
		if score > best.Score {
			best = Match{Value: idx.names[i], Score: score}
		}
	}

	if best.Score <= MinScore {
		return Match{}, false
	}
	return best, true
}

// Accept returns the best match only when it also meets threshold.
func (idx *Index) Accept(input string, threshold float64) (Match, bool) {
	m, ok := idx.Best(input)
	if !ok || m.Score < threshold {
		return Match{}, false
	}
	return m, true
}
