package sentiment

import (
	"strings"

	prose "github.com/jdkato/prose/v2"
)

// contrastivePivots flip or scope polarity mid-sentence. A clause on one side
// of a pivot usually carries the attitude toward the name inside it.
var contrastivePivots = map[string]bool{
	"however":      true,
	"but":          true,
	"though":       true,
	"although":     true,
	"yet":          true,
	"nevertheless": true,
	"still":        true,
}

// thirdPersonPronouns carry a reference to the last-named cast member across
// sentence boundaries.
var thirdPersonPronouns = map[string]bool{
	"she": true, "he": true, "they": true,
	"her": true, "him": true, "them": true,
	"hers": true, "his": true, "their": true, "theirs": true,
}

// Sentences segments text, falling back to terminal-punctuation splitting
// when the segmenter refuses the input.
func Sentences(text string) []string {
	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err == nil {
		sents := doc.Sentences()
		out := make([]string, 0, len(sents))
		for _, s := range sents {
			if trimmed := strings.TrimSpace(s.Text); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	var out []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

// HasAlias reports whether the alias appears in the text on its own word
// boundaries, case-insensitively.
func HasAlias(text, alias string) bool {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return false
	}
	lower := strings.ToLower(text)

	for start := 0; ; {
		i := strings.Index(lower[start:], alias)
		if i < 0 {
			return false
		}
		i += start

		before := i == 0 || !isWordChar(lower[i-1])
		end := i + len(alias)
		after := end >= len(lower) || !isWordChar(lower[end])
		if before && after {
			return true
		}

		start = i + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// SentenceContaining returns the first sentence in which the alias appears.
func SentenceContaining(text, alias string) (string, bool) {
	for _, sentence := range Sentences(text) {
		if HasAlias(sentence, alias) {
			return sentence, true
		}
	}

	return "", false
}

// contrastiveClause splits a sentence around its first contrastive pivot and
// returns the side holding the alias. The bool reports whether a pivot
// actually split the sentence.
func contrastiveClause(sentence, alias string) (string, bool) {
	words := strings.Fields(sentence)

	pivot := -1
	for i, word := range words {
		if contrastivePivots[strings.ToLower(strings.Trim(word, ".,!?;:()\"'"))] {
			pivot = i
			break
		}
	}
	if pivot < 0 {
		return sentence, false
	}

	left := strings.TrimSpace(strings.Join(words[:pivot], " "))
	right := strings.TrimSpace(strings.Join(words[pivot+1:], " "))

	if HasAlias(right, alias) && !HasAlias(left, alias) {
		return right, true
	}
	if HasAlias(left, alias) {
		return left, true
	}

	return sentence, false
}

// startsWithPronoun reports whether any of the sentence's first few words is
// a third-person pronoun, the cue that it continues talking about whoever
// was named last.
func startsWithPronoun(sentence string) bool {
	words := strings.Fields(sentence)
	if len(words) > 4 {
		words = words[:4]
	}
	for _, word := range words {
		if thirdPersonPronouns[strings.ToLower(strings.Trim(word, ".,!?;:()\"'"))] {
			return true
		}
	}

	return false
}
