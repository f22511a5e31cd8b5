package sentiment

// Attenuation dampens a sentiment magnitude when the comment reads as
// sarcastic or toxic, where the surface polarity is least trustworthy.
type Attenuation struct {
	SarcasmThreshold  float64
	ToxicityThreshold float64
}

// Apply returns the stored magnitude for a mention. Hard flags use fixed
// multipliers; soft confidences above their thresholds scale in proportion.
// The result is clamped to [0, 1]; callers keep the raw score separately.
func (a Attenuation) Apply(score float64, sarcasm, toxicity Detection) float64 {
	if sarcasm.Detected {
		score *= 0.6
	} else if a.SarcasmThreshold > 0 && sarcasm.Confidence >= a.SarcasmThreshold {
		score *= max(0, 1-0.4*min(sarcasm.Confidence, 1))
	}

	if toxicity.Detected {
		score *= 0.75
	} else if a.ToxicityThreshold > 0 && toxicity.Confidence >= a.ToxicityThreshold {
		score *= max(0, 1-0.25*min(toxicity.Confidence, 1))
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}

	return score
}
