package sentiment

import (
	"github.com/therealityreport/socializer-backend/internal/domain"
)

// Probs is the primary classifier's distribution over the three classes.
type Probs struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// Top returns the winning label, its probability and the margin to the
// runner-up.
func (p Probs) Top() (domain.SentimentLabel, float64, float64) {
	type entry struct {
		label domain.SentimentLabel
		prob  float64
	}

	entries := []entry{
		{domain.SentimentPositive, p.Positive},
		{domain.SentimentNeutral, p.Neutral},
		{domain.SentimentNegative, p.Negative},
	}

	top, second := entries[0], entry{}
	for _, e := range entries[1:] {
		if e.prob > top.prob {
			second = top
			top = e
		} else if e.prob > second.prob {
			second = e
		}
	}

	return top.label, top.prob, top.prob - second.prob
}

// Detection is a boolean classifier head with its confidence.
type Detection struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
}

// Prediction is one input's output from the primary classifier.
type Prediction struct {
	Label  domain.SentimentLabel
	Score  float64
	Margin float64
	Probs  Probs

	Sarcasm  Detection
	Toxicity Detection
}

// NormalizedSentiment is the uniform result every scorer produces, whichever
// model ended up deciding.
type NormalizedSentiment struct {
	Label       domain.SentimentLabel
	Score       float64
	Probs       Probs
	SourceModel string
	Reasoning   string

	Sarcasm  Detection
	Toxicity Detection
}

// ModelSentiment is one audit-trail entry: which model said what.
type ModelSentiment struct {
	Model string
	Label domain.SentimentLabel
	Score float64
}

// AnalysisResult carries the final pick plus the trail of every model
// consulted on the way there.
type AnalysisResult struct {
	Final         NormalizedSentiment
	Models        []ModelSentiment
	CombinedScore float64
}

func neutralResult(reason string) AnalysisResult {
	return AnalysisResult{
		Final: NormalizedSentiment{
			Label:       domain.SentimentNeutral,
			Score:       0,
			SourceModel: "neutral",
			Reasoning:   reason,
		},
	}
}
