// Package scoring grades a learner's spoken attempt against a reference
// phrase.
//
// The score is a character-level similarity in the range [0, 100] derived
// from the Levenshtein edit distance between the two normalised strings. It
// approximates pronunciation accuracy; it does not perform any phonetic or
// linguistic analysis, and Arabic diacritics are compared as ordinary runes.
package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// MaxRunes is the longest normalised input Score compares. Longer inputs are
// cut to their first MaxRunes runes, since the edit table grows with the
// product of both lengths.
const MaxRunes = 500

// Normalize lowercases s, trims surrounding whitespace and collapses every
// internal whitespace run into a single space. Whitespace is unicode.IsSpace,
// so U+0085 separates words and U+FEFF does not.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Distance returns the rune-level Levenshtein distance between a and b.
// Inputs are compared as given; callers normalise first.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Score returns how closely spoken matches reference as an integer in
// [0, 100]. Identical strings (after [Normalize]) score 100, as do two inputs
// that are both empty after normalisation. Score is symmetric in its
// arguments and never fails. Inputs longer than [MaxRunes] are compared by
// their first MaxRunes runes.
func Score(spoken, reference string) int {
	a, b := clip(Normalize(spoken)), clip(Normalize(reference))
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 100
	}
	sim := 100 - float64(Distance(a, b))/float64(maxLen)*100
	return int(math.Round(max(0, sim)))
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= MaxRunes {
		return s
	}
	return string([]rune(s)[:MaxRunes])
}
