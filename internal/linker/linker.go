package linker

import (
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/sentiment"
)

const (
	exactConfidence     = 0.95
	nerConfidence       = 0.98
	inheritedConfidence = 0.55

	fuzzyThreshold = 85
)

// MentionCandidate is one proposed (comment, cast member) link, before
// sentiment scoring.
type MentionCandidate struct {
	CastMemberID int64
	Confidence   float64
	Method       domain.MentionMethod
	Quote        string
}

// FindMentions detects cast members in a comment body. The exact alias scan
// runs first, then an NER pass picks up names the alias set only covers
// approximately. At most one candidate per cast member survives, the one with
// the highest confidence.
func (c *Catalog) FindMentions(text string) []MentionCandidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	best := map[int64]MentionCandidate{}
	keep := func(candidate MentionCandidate) {
		if current, ok := best[candidate.CastMemberID]; !ok || candidate.Confidence > current.Confidence {
			best[candidate.CastMemberID] = candidate
		}
	}

	for _, pattern := range c.patterns {
		loc := pattern.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		keep(MentionCandidate{
			CastMemberID: pattern.castMemberID,
			Confidence:   exactConfidence,
			Method:       domain.MethodExact,
			Quote:        text[loc[2]:loc[3]],
		})
	}

	for _, entity := range c.extract(text) {
		if entity.Label != "PERSON" && entity.Label != "GPE" {
			continue
		}

		lowered := strings.ToLower(strings.TrimSpace(entity.Text))
		if lowered == "" {
			continue
		}

		if id, ok := c.aliasOwner[lowered]; ok {
			keep(MentionCandidate{
				CastMemberID: id,
				Confidence:   nerConfidence,
				Method:       domain.MethodExactNER,
				Quote:        entity.Text,
			})
			continue
		}

		if id, score, ok := c.fuzzyMatch(lowered); ok {
			keep(MentionCandidate{
				CastMemberID: id,
				Confidence:   float64(score) / 100,
				Method:       domain.MethodFuzzy,
				Quote:        entity.Text,
			})
		}
	}

	out := make([]MentionCandidate, 0, len(best))
	for _, candidate := range best {
		out = append(out, candidate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CastMemberID < out[j].CastMemberID })

	return out
}

// fuzzyMatch scores the entity text against every alias with the
// partial-ratio scorer. Ties go to the lexicographically first alias.
func (c *Catalog) fuzzyMatch(text string) (int64, int, bool) {
	bestScore := 0
	var bestID int64

	for _, alias := range c.orderedAliases {
		score := fuzzy.PartialRatio(text, alias)
		if score >= fuzzyThreshold && score > bestScore {
			bestScore = score
			bestID = c.aliasOwner[alias]
		}
	}

	return bestID, bestScore, bestScore > 0
}

// InheritFromParent carries the parent comment's mentions into the candidate
// set. A reply that names nobody usually still talks about whoever the parent
// named, at much lower confidence. Cast members already in the set, and ones
// no longer in the catalog, are skipped.
func (c *Catalog) InheritFromParent(candidates []MentionCandidate, parentMentions []domain.Mention) []MentionCandidate {
	present := make(map[int64]bool, len(candidates))
	for _, candidate := range candidates {
		present[candidate.CastMemberID] = true
	}

	for _, mention := range parentMentions {
		if present[mention.CastMemberID] {
			continue
		}
		member, ok := c.members[mention.CastMemberID]
		if !ok {
			continue
		}

		present[mention.CastMemberID] = true
		candidates = append(candidates, MentionCandidate{
			CastMemberID: mention.CastMemberID,
			Confidence:   inheritedConfidence,
			Method:       domain.MethodInherited,
			Quote:        member.CanonicalName(),
		})
	}

	return candidates
}

// BuildContext assembles the string the scorer sees for one candidate. Direct
// matches score the sentence containing the matched quote; inherited
// candidates have no quote in the body, so the body and the parent's text are
// scored together.
func (c *Catalog) BuildContext(candidate MentionCandidate, body, parentBody string) string {
	if candidate.Method == domain.MethodInherited {
		joined := strings.TrimSpace(strings.TrimSpace(body) + " " + strings.TrimSpace(parentBody))
		if joined == "" {
			return body
		}
		return joined
	}

	if sentence, ok := sentiment.SentenceContaining(body, candidate.Quote); ok {
		return sentence
	}

	return body
}
