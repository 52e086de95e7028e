package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		expected string
	}{
		{"lowercases", "Blinding Lights", "blinding lights"},
		{"strips featuring credit", "Give Me Everything (feat. Nayer)", "give me everything"},
		{"strips remaster note", "Here Comes The Sun (Remastered 2019)", "here comes the sun"},
		{"strips multiple parentheticals", "Song (Live) (Bonus Track)", "song"},
		{"trims whitespace", "  Yesterday  ", "yesterday"},
		{"plain title unchanged", "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanTitle(tt.title))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("same", "same"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("", "something"))

	// One missing letter keeps the score high.
	assert.Greater(t, Similarity("bohemian rapsody", "bohemian rhapsody"), 0.9)

	// Unrelated strings score low.
	assert.Less(t, Similarity("yesterday", "smells like teen spirit"), 0.5)
}

func TestSimilarityMultiByte(t *testing.T) {
	// One accented substitution over ten runes. Byte lengths would
	// dilute the distance and overstate the score.
	assert.InDelta(t, 0.8, Similarity("héllo", "hello"), 1e-9)

	// Entirely different Japanese titles share nothing.
	assert.InDelta(t, 0.0, Similarity("夜に駆ける", "炎"), 1e-9)
}

func TestIsCloseMatch(t *testing.T) {
	tests := []struct {
		name  string
		guess string
		title string
		want  bool
	}{
		{"exact match", "Blinding Lights", "Blinding Lights", true},
		{"case insensitive", "blinding lights", "Blinding Lights", true},
		{"ignores featuring credit", "give me everything", "Give Me Everything (feat. Nayer)", true},
		{"small typo accepted", "bohemian rapsody", "Bohemian Rhapsody", true},
		{"wrong song rejected", "hello", "Rolling in the Deep", false},
		{"empty guess rejected", "", "Blinding Lights", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCloseMatch(tt.guess, tt.title, 0.7))
		})
	}
}
