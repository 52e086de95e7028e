package game

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xrash/smetrics"
)

// parenthetical strips bracketed suffixes such as "(feat. Nayer)" or
// "(Remastered 2011)" that players are not expected to type.
var parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)

// CleanTitle normalizes a track title for comparison:
// "Give Me Everything (feat. Nayer)" -> "give me everything".
func CleanTitle(title string) string {
	title = parenthetical.ReplaceAllString(title, "")
	return strings.ToLower(strings.TrimSpace(title))
}

// Similarity returns a 0..1 score between two normalized strings. It is
// derived from the Wagner-Fischer edit distance with substitutions
// costing a delete plus an insert, so the score tracks the share of
// matching characters.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	// The edit distance counts runes, so the length must too or
	// multi-byte titles score inflated similarities.
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	dist := smetrics.WagnerFischer(a, b, 1, 1, 2)
	return 1 - float64(dist)/float64(total)
}

// IsCloseMatch reports whether a guess is close enough to the correct
// title after normalization.
func IsCloseMatch(guess, title string, threshold float64) bool {
	return Similarity(CleanTitle(guess), CleanTitle(title)) >= threshold
}
