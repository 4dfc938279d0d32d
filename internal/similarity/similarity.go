// Package similarity scores how alike two transaction descriptions are.
package similarity

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/hollis/countinghouse/internal/textnorm"
)

// TokenSetRatio returns a score in [0,1] for two descriptions.
//
// Both sides are normalized and split into unique sorted token sets. With
// i = intersection, a' = i + tokens only in a, b' = i + tokens only in b
// (each joined by single spaces), the score is the maximum Levenshtein
// similarity (1 - distance/maxlen) over the pairs (i,a'), (i,b'), (a',b').
// Identical token sets and subset relations score 1.0 regardless of word
// order, so "STAPLES OFFICE" and "STAPLES OFFICE SUPPLIES" are a full match.
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for _, tok := range setA {
		if contains(setB, tok) {
			inter = append(inter, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for _, tok := range setB {
		if !contains(setA, tok) {
			onlyB = append(onlyB, tok)
		}
	}

	s0 := strings.Join(inter, " ")
	s1 := strings.Join(append(append([]string{}, inter...), onlyA...), " ")
	s2 := strings.Join(append(append([]string{}, inter...), onlyB...), " ")

	best := ratio(s1, s2)
	if s0 != "" {
		if r := ratio(s0, s1); r > best {
			best = r
		}
		if r := ratio(s0, s2); r > best {
			best = r
		}
	}
	return best
}

// ratio is plain Levenshtein similarity on already-normalized strings.
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	maxlen := len(a)
	if len(b) > maxlen {
		maxlen = len(b)
	}
	if maxlen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxlen)
}

func tokenSet(s string) []string {
	toks := textnorm.Tokens(s)
	seen := make(map[string]struct{}, len(toks))
	var out []string
	for _, tok := range toks {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func contains(sorted []string, tok string) bool {
	i := sort.SearchStrings(sorted, tok)
	return i < len(sorted) && sorted[i] == tok
}
