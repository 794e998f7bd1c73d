package merge

import (
	"regexp"
	"slices"
	"strings"
)

// titleWords matches the tokens kept by title normalization. Everything
// between tokens (punctuation, whitespace) is discarded.
var titleWords = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// normalize reduces a title to its lower-cased word sequence so casing,
// punctuation, and spacing differences do not affect comparison.
func normalize(title string) []string {
	return titleWords.FindAllString(strings.ToLower(title), -1)
}

// Similarity scores two publication titles: 1 when both normalize to the same
// word sequence, 0 otherwise.
func Similarity(a, b string) float64 {
	if slices.Equal(normalize(a), normalize(b)) {
		return 1.0
	}
	return 0.0
}
