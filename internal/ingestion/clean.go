// Package ingestion handles corpus processing: loading, cleaning, chunking,
// change detection, and pipeline orchestration.
package ingestion

import (
	"regexp"
	"strings"
)

var (
	// Control characters only. Punctuation, symbols, URLs and emails must
	// survive cleaning byte for byte.
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

	whitespaceRuns = regexp.MustCompile(`\s+`)

	// Everything that is not an ideograph, a word character, or whitespace.
	aggressiveChars = regexp.MustCompile(`[^\p{Han}\w\s]`)
)

// Normalize strips control characters and collapses whitespace runs into a
// single space. All visible characters are preserved.
func Normalize(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// DeepClean reduces text to ideographs, word characters, and spaces.
// Used only as a second attempt after a fragment is rejected downstream;
// it destroys punctuation and must never run on the normal path.
func DeepClean(text string) string {
	text = aggressiveChars.ReplaceAllString(text, " ")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
