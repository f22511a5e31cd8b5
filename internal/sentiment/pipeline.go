package sentiment

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/config"
)

const opinionsModel = "opinions"

const (
	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeError    = "error"
)

// Pipeline is the two-tier scorer: a fine-tuned primary classifier and an
// optional opinion-mining fallback consulted when the primary is unsure.
// Construct one per worker process and share it across tasks.
type Pipeline struct {
	primary  *InferenceClient
	fallback *OpinionsClient

	confidenceGate float64
	marginGate     float64
	attenuation    Attenuation
	cacheDir       string

	logger *zap.Logger
	statsd statsd.ClientInterface
}

// NewPipeline wires the scorers and fires a one-shot canary against the
// fallback so dead credentials are visible at boot instead of mid-batch.
func NewPipeline(ctx context.Context, logger *zap.Logger, statsd statsd.ClientInterface, cfg config.SentimentSettings, primary *InferenceClient, fallback *OpinionsClient) *Pipeline {
	p := &Pipeline{
		primary:        primary,
		fallback:       fallback,
		confidenceGate: cfg.ConfidenceGate(),
		marginGate:     cfg.MarginGate(),
		attenuation: Attenuation{
			SarcasmThreshold:  cfg.SarcasmThreshold,
			ToxicityThreshold: cfg.ToxicityThreshold,
		},
		cacheDir: cfg.CacheDir,
		logger:   logger,
		statsd:   statsd,
	}

	if p.fallback != nil {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := p.fallback.Canary(cctx); err != nil {
			p.logger.Warn("opinion service canary failed", zap.Error(err))
			p.count("canary", outcomeError)
		} else {
			p.count("canary", outcomeOK)
		}
	}

	return p
}

// Attenuation exposes the configured dampening for the linker task.
func (p *Pipeline) Attenuation() Attenuation {
	return p.attenuation
}

func (p *Pipeline) count(scope, outcome string) {
	_ = p.statsd.Incr("socializer.sentiment.analysis",
		[]string{"scope:" + scope, "outcome:" + outcome}, 0.1)
}

func (p *Pipeline) timing(scope string, start time.Time) {
	_ = p.statsd.Histogram("socializer.sentiment.latency",
		float64(time.Since(start).Milliseconds()), []string{"scope:" + scope}, 0.1)
}

func (p *Pipeline) lowConfidence(pred Prediction) bool {
	return pred.Score < p.confidenceGate || pred.Margin < p.marginGate
}

func fromPrediction(pred Prediction, model string) NormalizedSentiment {
	return NormalizedSentiment{
		Label:       pred.Label,
		Score:       pred.Score,
		Probs:       pred.Probs,
		SourceModel: model,
		Sarcasm:     pred.Sarcasm,
		Toxicity:    pred.Toxicity,
	}
}

// fromOpinion keeps the primary's sarcasm and toxicity heads when the
// fallback decides the label: the opinion service has no such heads.
func fromOpinion(doc *OpinionResult, carry *Prediction) NormalizedSentiment {
	ns := NormalizedSentiment{
		Label:       doc.Label,
		Score:       doc.Confidence,
		Probs:       doc.Probs,
		SourceModel: opinionsModel,
		Reasoning:   "document-level opinion",
	}
	if carry != nil {
		ns.Sarcasm = carry.Sarcasm
		ns.Toxicity = carry.Toxicity
	}

	return ns
}

func fromTarget(target OpinionTarget, carry *Prediction) NormalizedSentiment {
	ns := NormalizedSentiment{
		Label:       target.Label,
		Score:       target.Confidence,
		SourceModel: opinionsModel,
		Reasoning:   fmt.Sprintf("opinion target %q", target.Text),
	}
	if carry != nil {
		ns.Sarcasm = carry.Sarcasm
		ns.Toxicity = carry.Toxicity
	}

	return ns
}

// AnalyzeComment scores one comment body. It never fails: a primary outage
// falls through to the fallback when enabled, and to a neutral zero-score
// result when not.
func (p *Pipeline) AnalyzeComment(ctx context.Context, text string) AnalysisResult {
	defer p.timing("comment", time.Now())

	preds, err := p.primary.Predict(ctx, []string{text})
	if err != nil || len(preds) == 0 {
		p.logger.Warn("primary scorer failed", zap.Error(err))

		if p.fallback != nil {
			doc, ferr := p.fallback.Analyze(ctx, text)
			if ferr != nil {
				p.logger.Warn("opinion fallback failed", zap.Error(ferr))
			} else {
				final := fromOpinion(doc, nil)
				p.count("comment", outcomeFallback)
				return AnalysisResult{
					Final:         final,
					Models:        []ModelSentiment{{Model: opinionsModel, Label: final.Label, Score: final.Score}},
					CombinedScore: final.Score,
				}
			}
		}

		p.count("comment", outcomeError)
		return neutralResult("primary scorer unavailable")
	}

	pred := preds[0]
	result := AnalysisResult{
		Final:  fromPrediction(pred, p.primary.Model()),
		Models: []ModelSentiment{{Model: p.primary.Model(), Label: pred.Label, Score: pred.Score}},
	}

	outcome := outcomeOK
	if p.fallback != nil && p.lowConfidence(pred) {
		if doc, ferr := p.fallback.Analyze(ctx, text); ferr == nil {
			result.Final = fromOpinion(doc, &pred)
			result.Models = append(result.Models, ModelSentiment{Model: opinionsModel, Label: doc.Label, Score: doc.Confidence})
			outcome = outcomeFallback
		} else {
			p.logger.Warn("opinion fallback failed", zap.Error(ferr))
		}
	}

	for _, m := range result.Models {
		result.CombinedScore += m.Score
	}

	p.count("comment", outcome)
	return result
}

// MentionContext is one candidate to score: the context string extracted for
// it, the alias that matched, and the full alias set for opinion-target
// matching.
type MentionContext struct {
	CastMemberID int64
	Alias        string
	Aliases      []string
	Context      string
}

// AnalyzeMentions scores each candidate's context. With a single distinct
// cast member the document speaks about one person and document-level
// fallback is safe; with several, per-target opinions or the contrastive
// clause heuristic decide instead, because the document's overall polarity
// may belong to someone else.
func (p *Pipeline) AnalyzeMentions(ctx context.Context, text string, mentions []MentionContext) []NormalizedSentiment {
	if len(mentions) == 0 {
		return nil
	}
	defer p.timing("mention", time.Now())

	contexts := make([]string, len(mentions))
	distinct := map[int64]bool{}
	for i, m := range mentions {
		contexts[i] = m.Context
		distinct[m.CastMemberID] = true
	}
	multi := len(distinct) >= 2

	preds, perr := p.primary.Predict(ctx, contexts)
	if perr != nil {
		p.logger.Warn("primary scorer failed", zap.Error(perr), zap.Int("mention#count", len(mentions)))
	}

	var doc *OpinionResult
	docFetched := false
	fetchDoc := func() *OpinionResult {
		if p.fallback == nil {
			return nil
		}
		if !docFetched {
			docFetched = true
			var err error
			if doc, err = p.fallback.Analyze(ctx, text); err != nil {
				p.logger.Warn("opinion fallback failed", zap.Error(err))
				doc = nil
			}
		}
		return doc
	}

	out := make([]NormalizedSentiment, len(mentions))
	for i, m := range mentions {
		var pred *Prediction
		if perr == nil && i < len(preds) {
			pred = &preds[i]
		}

		if multi {
			out[i] = p.scoreMultiTarget(ctx, text, m, pred, fetchDoc)
			continue
		}
		out[i] = p.scoreSingleTarget(m, pred, fetchDoc)
	}

	return out
}

func (p *Pipeline) scoreSingleTarget(m MentionContext, pred *Prediction, fetchDoc func() *OpinionResult) NormalizedSentiment {
	if pred != nil && !p.lowConfidence(*pred) {
		p.count("mention", outcomeOK)
		return fromPrediction(*pred, p.primary.Model())
	}

	if doc := fetchDoc(); doc != nil {
		p.count("mention", outcomeFallback)
		if target, ok := doc.MatchTarget(m.Aliases); ok {
			return fromTarget(target, pred)
		}
		return fromOpinion(doc, pred)
	}

	if pred != nil {
		p.count("mention", outcomeOK)
		return fromPrediction(*pred, p.primary.Model())
	}

	p.count("mention", outcomeError)
	return neutralResult("primary scorer unavailable").Final
}

func (p *Pipeline) scoreMultiTarget(ctx context.Context, text string, m MentionContext, pred *Prediction, fetchDoc func() *OpinionResult) NormalizedSentiment {
	doc := fetchDoc()
	if doc != nil {
		if target, ok := doc.MatchTarget(m.Aliases); ok {
			p.count("mention", outcomeFallback)
			return fromTarget(target, pred)
		}
		// No per-target opinion: the context string is already scoped to the
		// alias's sentence, so the primary's read of it stands.
		if pred != nil {
			p.count("mention", outcomeOK)
			return fromPrediction(*pred, p.primary.Model())
		}
		p.count("mention", outcomeError)
		return neutralResult("primary scorer unavailable").Final
	}

	return p.scoreClause(ctx, text, m, pred)
}

// scoreClause narrows a multi-target sentence down to the clause around the
// alias and rescores it. Sentences split on a contrastive pivot ("loved X but
// Y was awful") otherwise attribute one half's polarity to both names.
func (p *Pipeline) scoreClause(ctx context.Context, text string, m MentionContext, contextPred *Prediction) NormalizedSentiment {
	sentence, ok := SentenceContaining(text, m.Alias)
	if !ok {
		sentence = m.Context
	}

	clause, pivoted := contrastiveClause(sentence, m.Alias)
	if !pivoted && contextPred != nil && strings.TrimSpace(clause) == strings.TrimSpace(m.Context) {
		p.count("mention", outcomeOK)
		return fromPrediction(*contextPred, p.primary.Model())
	}

	preds, err := p.primary.Predict(ctx, []string{clause})
	if err != nil || len(preds) == 0 {
		if contextPred != nil {
			p.count("mention", outcomeOK)
			return fromPrediction(*contextPred, p.primary.Model())
		}
		p.count("mention", outcomeError)
		return neutralResult("primary scorer unavailable").Final
	}

	ns := fromPrediction(preds[0], p.primary.Model()+"+heuristic")
	if pivoted {
		ns.Reasoning = fmt.Sprintf("scored clause %q selected around a contrastive pivot", clause)
	} else {
		ns.Reasoning = fmt.Sprintf("scored sentence %q containing the alias", clause)
	}

	p.count("mention", outcomeOK)
	return ns
}

// FreeformTarget names one cast member to look for in ad-hoc text.
type FreeformTarget struct {
	CastMemberID int64
	Name         string
	Aliases      []string
}

// FreeformResult is the per-target outcome: the context that was scored and
// the full analysis trail.
type FreeformResult struct {
	CastMemberID int64
	Name         string
	Context      string
	Result       AnalysisResult
}

// AnalyzeFreeform scores ad-hoc text per target. A target's context is every
// sentence naming it plus follow-on sentences that continue with a
// third-person pronoun. Targets never named in the text produce no result.
func (p *Pipeline) AnalyzeFreeform(ctx context.Context, text string, targets []FreeformTarget) []FreeformResult {
	defer p.timing("freeform", time.Now())

	contexts := buildFreeformContexts(text, targets)

	var selected []int
	var inputs []string
	for i, c := range contexts {
		if c != "" {
			selected = append(selected, i)
			inputs = append(inputs, c)
		}
	}
	if len(selected) == 0 {
		return nil
	}

	preds, perr := p.primary.Predict(ctx, inputs)
	if perr != nil {
		p.logger.Warn("primary scorer failed", zap.Error(perr), zap.Int("freeform#targets", len(selected)))
	}

	results := make([]FreeformResult, 0, len(selected))
	for n, i := range selected {
		target := targets[i]
		context := contexts[i]

		var result AnalysisResult
		outcome := outcomeOK

		if perr != nil || n >= len(preds) {
			result = neutralResult("primary scorer unavailable")
			outcome = outcomeError

			if p.fallback != nil {
				if doc, ferr := p.fallback.Analyze(ctx, context); ferr == nil {
					final := docOrTarget(doc, target.Aliases, nil)
					result = AnalysisResult{
						Final:         final,
						Models:        []ModelSentiment{{Model: opinionsModel, Label: final.Label, Score: final.Score}},
						CombinedScore: final.Score,
					}
					outcome = outcomeFallback
				}
			}
		} else {
			pred := preds[n]
			result = AnalysisResult{
				Final:  fromPrediction(pred, p.primary.Model()),
				Models: []ModelSentiment{{Model: p.primary.Model(), Label: pred.Label, Score: pred.Score}},
			}

			if p.fallback != nil && p.lowConfidence(pred) {
				if doc, ferr := p.fallback.Analyze(ctx, context); ferr == nil {
					result.Final = docOrTarget(doc, target.Aliases, &pred)
					result.Models = append(result.Models, ModelSentiment{Model: opinionsModel, Label: result.Final.Label, Score: result.Final.Score})
					outcome = outcomeFallback
				} else {
					p.logger.Warn("opinion fallback failed", zap.Error(ferr))
				}
			}

			for _, m := range result.Models {
				result.CombinedScore += m.Score
			}
		}

		p.count("freeform", outcome)
		results = append(results, FreeformResult{
			CastMemberID: target.CastMemberID,
			Name:         target.Name,
			Context:      context,
			Result:       result,
		})
	}

	return results
}

func docOrTarget(doc *OpinionResult, aliases []string, carry *Prediction) NormalizedSentiment {
	if target, ok := doc.MatchTarget(aliases); ok {
		return fromTarget(target, carry)
	}
	return fromOpinion(doc, carry)
}

// buildFreeformContexts walks the sentences once, attributing each to the
// targets it names. A sentence naming nobody but opening with a third-person
// pronoun follows the last unambiguously named target.
func buildFreeformContexts(text string, targets []FreeformTarget) []string {
	parts := make([][]string, len(targets))
	last := -1

	for _, sentence := range Sentences(text) {
		var matched []int
		for ti, target := range targets {
			for _, alias := range target.Aliases {
				if HasAlias(sentence, alias) {
					matched = append(matched, ti)
					break
				}
			}
		}

		if len(matched) > 0 {
			for _, ti := range matched {
				parts[ti] = append(parts[ti], sentence)
			}
			if len(matched) == 1 {
				last = matched[0]
			} else {
				last = -1
			}
			continue
		}

		if last >= 0 && startsWithPronoun(sentence) {
			parts[last] = append(parts[last], sentence)
		}
	}

	contexts := make([]string, len(targets))
	for i, p := range parts {
		contexts[i] = strings.Join(p, " ")
	}

	return contexts
}

// MonitorCacheSize samples the on-disk model cache and reports it as a gauge
// until the context ends. No-op when no cache directory is configured.
func (p *Pipeline) MonitorCacheSize(ctx context.Context, interval time.Duration) {
	if p.cacheDir == "" {
		return
	}
	if interval < 5*time.Minute {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.emitCacheSize()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) emitCacheSize() {
	var total int64
	_ = filepath.WalkDir(p.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})

	_ = p.statsd.Gauge("socializer.sentiment.model_cache_bytes", float64(total),
		[]string{"model:" + p.primary.Model()}, 1)
}

// LabelFlags derives the stored boolean flags from a result's detection
// heads, honoring the configured thresholds.
func (p *Pipeline) LabelFlags(ns NormalizedSentiment) (sarcastic, toxic bool) {
	sarcastic = ns.Sarcasm.Detected ||
		(p.attenuation.SarcasmThreshold > 0 && ns.Sarcasm.Confidence >= p.attenuation.SarcasmThreshold)
	toxic = ns.Toxicity.Detected ||
		(p.attenuation.ToxicityThreshold > 0 && ns.Toxicity.Confidence >= p.attenuation.ToxicityThreshold)
	return sarcastic, toxic
}
