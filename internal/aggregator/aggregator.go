package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

// Shift keys exposed in insights and alert payloads.
const (
	ShiftDayOfVsLive  = "day_of_vs_live"
	ShiftAfterVsDayOf = "after_vs_day_of"
	ShiftAfterVsLive  = "after_vs_live"
)

const zScore = 1.96

// Snapshot is one finalized bucket of mentions.
type Snapshot struct {
	NetSentiment   float64
	CILower        float64
	CIUpper        float64
	PositivePct    float64
	NeutralPct     float64
	NegativePct    float64
	AgreementScore float64
	MentionCount   int64
}

// CastResult groups everything computed for one cast member.
type CastResult struct {
	Overall      Snapshot
	ShareOfVoice float64
	Windows      map[domain.TimeWindow]Snapshot
}

// Result is a full per-thread aggregation pass.
type Result struct {
	ThreadID      int64
	TotalMentions int64
	Casts         map[int64]CastResult
	Windows       map[domain.TimeWindow]Snapshot
	Shifts        map[string]float64
	ComputedAt    time.Time
}

type bucket struct {
	weightedPositive float64
	weightedNeutral  float64
	weightedNegative float64
	countPositive    int64
	countNeutral     int64
	countNegative    int64
	weightSum        float64
}

func (b *bucket) add(m domain.ThreadMention) {
	weight := effectiveWeight(m)

	switch m.SentimentLabel {
	case domain.SentimentPositive:
		b.weightedPositive += weight
		b.countPositive++
	case domain.SentimentNegative:
		b.weightedNegative += weight
		b.countNegative++
	default:
		b.weightedNeutral += weight
		b.countNeutral++
	}

	b.weightSum += weight
}

// effectiveWeight is the mention's explicit weight when an admin set one,
// otherwise one vote plus the comment's non-negative score.
func effectiveWeight(m domain.ThreadMention) float64 {
	if m.Weight != nil {
		return *m.Weight
	}
	return math.Max(0, float64(m.CommentScore)) + 1
}

func (b *bucket) finalize() Snapshot {
	totalCount := b.countPositive + b.countNeutral + b.countNegative
	if totalCount == 0 {
		return Snapshot{}
	}

	totalWeight := b.weightedPositive + b.weightedNeutral + b.weightedNegative
	if totalWeight == 0 {
		totalWeight = float64(totalCount)
	}

	net := clamp((b.weightedPositive-b.weightedNegative)/totalWeight, -1, 1)

	n := float64(totalCount)
	positivePct := float64(b.countPositive) / n
	neutralPct := float64(b.countNeutral) / n
	negativePct := float64(b.countNegative) / n

	var se float64
	if totalCount > 1 {
		if b.countPositive > 0 {
			se += positivePct * (1 - positivePct) / float64(b.countPositive)
		}
		if b.countNegative > 0 {
			se += negativePct * (1 - negativePct) / float64(b.countNegative)
		}
		se = math.Sqrt(se)
	}

	return Snapshot{
		NetSentiment:   net,
		CILower:        clamp(net-zScore*se, -1, 1),
		CIUpper:        clamp(net+zScore*se, -1, 1),
		PositivePct:    positivePct,
		NeutralPct:     neutralPct,
		NegativePct:    negativePct,
		AgreementScore: b.weightSum / n,
		MentionCount:   totalCount,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Compute folds a thread's mentions into per-cast, per-(cast, window) and
// per-window summaries plus the derived share-of-voice and window shifts.
// It is pure: the same mentions always produce the same result.
func Compute(threadID int64, mentions []domain.ThreadMention, computedAt time.Time) Result {
	result := Result{
		ThreadID:      threadID,
		TotalMentions: int64(len(mentions)),
		Casts:         map[int64]CastResult{},
		Windows:       map[domain.TimeWindow]Snapshot{},
		Shifts:        map[string]float64{},
		ComputedAt:    computedAt.UTC(),
	}
	if len(mentions) == 0 {
		return result
	}

	castBuckets := map[int64]*bucket{}
	castWindowBuckets := map[int64]map[domain.TimeWindow]*bucket{}
	windowBuckets := map[domain.TimeWindow]*bucket{}

	for _, m := range mentions {
		if castBuckets[m.CastMemberID] == nil {
			castBuckets[m.CastMemberID] = &bucket{}
			castWindowBuckets[m.CastMemberID] = map[domain.TimeWindow]*bucket{}
		}
		castBuckets[m.CastMemberID].add(m)

		if castWindowBuckets[m.CastMemberID][m.TimeWindow] == nil {
			castWindowBuckets[m.CastMemberID][m.TimeWindow] = &bucket{}
		}
		castWindowBuckets[m.CastMemberID][m.TimeWindow].add(m)

		if windowBuckets[m.TimeWindow] == nil {
			windowBuckets[m.TimeWindow] = &bucket{}
		}
		windowBuckets[m.TimeWindow].add(m)
	}

	for castID, b := range castBuckets {
		overall := b.finalize()

		windows := make(map[domain.TimeWindow]Snapshot, len(castWindowBuckets[castID]))
		for window, wb := range castWindowBuckets[castID] {
			windows[window] = wb.finalize()
		}

		result.Casts[castID] = CastResult{
			Overall:      overall,
			ShareOfVoice: float64(overall.MentionCount) / float64(result.TotalMentions),
			Windows:      windows,
		}
	}

	for window, b := range windowBuckets {
		result.Windows[window] = b.finalize()
	}

	shift := func(key string, to, from domain.TimeWindow) {
		a, okA := result.Windows[to]
		b, okB := result.Windows[from]
		if okA && okB {
			result.Shifts[key] = a.NetSentiment - b.NetSentiment
		}
	}
	shift(ShiftDayOfVsLive, domain.WindowDayOf, domain.WindowLive)
	shift(ShiftAfterVsDayOf, domain.WindowAfter, domain.WindowDayOf)
	shift(ShiftAfterVsLive, domain.WindowAfter, domain.WindowLive)

	return result
}

// Rows flattens the result into the persisted form: one overall row per cast
// plus one row per (cast, window). Window-only summaries are recomputed on
// read instead of stored.
func (r Result) Rows() []*domain.Aggregate {
	rows := make([]*domain.Aggregate, 0, len(r.Casts)*2)

	castIDs := make([]int64, 0, len(r.Casts))
	for castID := range r.Casts {
		castIDs = append(castIDs, castID)
	}
	sort.Slice(castIDs, func(i, j int) bool { return castIDs[i] < castIDs[j] })

	for _, castID := range castIDs {
		cast := r.Casts[castID]
		rows = append(rows, r.row(castID, domain.WindowOverall, cast.Overall))

		windows := make([]domain.TimeWindow, 0, len(cast.Windows))
		for window := range cast.Windows {
			windows = append(windows, window)
		}
		sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })

		for _, window := range windows {
			rows = append(rows, r.row(castID, window, cast.Windows[window]))
		}
	}

	return rows
}

func (r Result) row(castID int64, window domain.TimeWindow, s Snapshot) *domain.Aggregate {
	return &domain.Aggregate{
		ThreadID:       r.ThreadID,
		CastMemberID:   castID,
		TimeWindow:     window,
		NetSentiment:   s.NetSentiment,
		CILower:        s.CILower,
		CIUpper:        s.CIUpper,
		PositivePct:    s.PositivePct,
		NeutralPct:     s.NeutralPct,
		NegativePct:    s.NegativePct,
		AgreementScore: s.AgreementScore,
		MentionCount:   s.MentionCount,
		ComputedAt:     r.ComputedAt,
	}
}
