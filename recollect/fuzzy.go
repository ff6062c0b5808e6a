package recollect

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"strings"
	"unicode"
)

// minFuzzyScore is the fewest characters a fuzzy match must consume.
const minFuzzyScore = 2

// foldText lowercases s and strips diacritics, so "Zoë" and "zoe" compare
// equal.
func foldText(s string) string {
	// transformers carry state, so a new chain is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// fuzzyBestMatch returns the index of the candidate best matching search.
//
// A candidate equal to search (ignoring case and diacritics) wins outright.
// Otherwise every character of search must appear in the candidate in
// order, and the candidate's score is the number of characters consumed.
// Scores under minFuzzyScore are rejected. The first of equally scored
// candidates wins.
func fuzzyBestMatch(search string, candidates []string) (int, bool) {
	needle := []rune(foldText(search))
	if len(needle) == 0 {
		return -1, false
	}
	folded := make([]string, len(candidates))
	for i, c := range candidates {
		folded[i] = foldText(c)
		if folded[i] == string(needle) {
			return i, true
		}
	}

	best, bestScore := -1, 0
	for i, c := range folded {
		score := subsequenceScore(needle, c)
		if score < minFuzzyScore {
			continue
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, best >= 0
}

// subsequenceScore returns how many characters of needle were consumed in
// order from haystack, or 0 if needle isn't an ordered subsequence of it.
func subsequenceScore(needle []rune, haystack string) int {
	consumed := 0
	for _, r := range haystack {
		if consumed == len(needle) {
			break
		}
		if r == needle[consumed] {
			consumed++
		}
	}
	if consumed < len(needle) {
		return 0
	}
	return consumed
}
