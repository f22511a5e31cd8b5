package sentiment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/therealityreport/socializer-backend/internal/sentiment"
)

func TestSentences(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		text string
		want int
	}{
		"single sentence":     {"Kyle stole the show", 1},
		"multiple sentences":  {"Kyle stole the show. She was hilarious. Rinna kept quiet.", 3},
		"question and answer": {"Did you see that? Unreal.", 2},
		"empty text":          {"", 0},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, sentiment.Sentences(tt.text), tt.want)
		})
	}
}

func TestHasAlias(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		text  string
		alias string
		want  bool
	}{
		"plain match":             {"I love Kyle", "kyle", true},
		"case insensitive":        {"KYLE again", "kyle", true},
		"trailing punctuation":    {"classic Kyle!", "kyle", true},
		"multi word alias":        {"Kyle Richards was on fire", "kyle richards", true},
		"substring of a word":     {"kylello is not a name", "kyle", false},
		"embedded in longer word": {"that was erikayle", "kyle", false},
		"absent alias":            {"Dorit said nothing", "kyle", false},
		"empty alias":             {"anything", "", false},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sentiment.HasAlias(tt.text, tt.alias))
		})
	}
}

func TestSentenceContaining(t *testing.T) {
	t.Parallel()

	text := "The reunion was a mess. Kyle held her own though. Everyone else just yelled."

	got, ok := sentiment.SentenceContaining(text, "kyle")
	assert.True(t, ok)
	assert.Contains(t, got, "Kyle held her own")

	_, ok = sentiment.SentenceContaining(text, "dorit")
	assert.False(t, ok)
}
