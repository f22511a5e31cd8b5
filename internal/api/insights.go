package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/therealityreport/socializer-backend/internal/aggregator"
	"github.com/therealityreport/socializer-backend/internal/domain"
)

type snapshotItem struct {
	NetSentiment   float64 `json:"net_sentiment"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
	PositivePct    float64 `json:"positive_pct"`
	NeutralPct     float64 `json:"neutral_pct"`
	NegativePct    float64 `json:"negative_pct"`
	AgreementScore float64 `json:"agreement_score"`
	MentionCount   int64   `json:"mention_count"`
}

func snapshotFromAggregate(agg domain.Aggregate) snapshotItem {
	return snapshotItem{
		NetSentiment:   agg.NetSentiment,
		CILower:        agg.CILower,
		CIUpper:        agg.CIUpper,
		PositivePct:    agg.PositivePct,
		NeutralPct:     agg.NeutralPct,
		NegativePct:    agg.NegativePct,
		AgreementScore: agg.AgreementScore,
		MentionCount:   agg.MentionCount,
	}
}

func snapshotFromResult(s aggregator.Snapshot) snapshotItem {
	return snapshotItem{
		NetSentiment:   s.NetSentiment,
		CILower:        s.CILower,
		CIUpper:        s.CIUpper,
		PositivePct:    s.PositivePct,
		NeutralPct:     s.NeutralPct,
		NegativePct:    s.NegativePct,
		AgreementScore: s.AgreementScore,
		MentionCount:   s.MentionCount,
	}
}

type castInsight struct {
	CastMemberID int64  `json:"cast_member_id"`
	Slug         string `json:"slug,omitempty"`
	Name         string `json:"name,omitempty"`

	ShareOfVoice float64                 `json:"share_of_voice"`
	Overall      snapshotItem            `json:"overall"`
	Windows      map[string]snapshotItem `json:"windows,omitempty"`
}

type threadInsights struct {
	ThreadID      int64      `json:"thread_id"`
	TotalMentions int64      `json:"total_mentions"`
	ComputedAt    *time.Time `json:"computed_at,omitempty"`

	Casts   []castInsight           `json:"casts"`
	Windows map[string]snapshotItem `json:"windows,omitempty"`
	Shifts  map[string]float64      `json:"shifts,omitempty"`
}

// threadInsightsHandler serves the persisted per-cast aggregates together
// with the cross-cast window summaries and shifts, which are recomputed from
// the mentions on every read since they are never stored.
func (a *api) threadInsightsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	rows, err := a.aggregateRepo.ListByThread(ctx, thread.ID)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	members, err := a.castRepo.List(ctx)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}
	names := make(map[int64]domain.CastMember, len(members))
	for _, member := range members {
		names[member.ID] = member
	}

	insights := threadInsights{ThreadID: thread.ID, Casts: []castInsight{}}

	perCast := map[int64]*castInsight{}
	for _, row := range rows {
		if insights.ComputedAt == nil || row.ComputedAt.After(*insights.ComputedAt) {
			at := row.ComputedAt
			insights.ComputedAt = &at
		}

		cast := perCast[row.CastMemberID]
		if cast == nil {
			cast = &castInsight{CastMemberID: row.CastMemberID}
			if member, ok := names[row.CastMemberID]; ok {
				cast.Slug = member.Slug
				cast.Name = member.CanonicalName()
			}
			perCast[row.CastMemberID] = cast
		}

		if row.TimeWindow == domain.WindowOverall {
			cast.Overall = snapshotFromAggregate(row)
			insights.TotalMentions += row.MentionCount
			continue
		}

		if cast.Windows == nil {
			cast.Windows = map[string]snapshotItem{}
		}
		cast.Windows[string(row.TimeWindow)] = snapshotFromAggregate(row)
	}

	for _, cast := range perCast {
		if insights.TotalMentions > 0 {
			cast.ShareOfVoice = float64(cast.Overall.MentionCount) / float64(insights.TotalMentions)
		}
		insights.Casts = append(insights.Casts, *cast)
	}
	sort.Slice(insights.Casts, func(i, j int) bool {
		a, b := insights.Casts[i], insights.Casts[j]
		if a.Overall.MentionCount != b.Overall.MentionCount {
			return a.Overall.MentionCount > b.Overall.MentionCount
		}
		return a.CastMemberID < b.CastMemberID
	})

	mentions, err := a.mentionRepo.ListForThread(ctx, thread.ID)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	result := aggregator.Compute(thread.ID, mentions, time.Now().UTC())
	if len(result.Windows) > 0 {
		insights.Windows = make(map[string]snapshotItem, len(result.Windows))
		for window, snapshot := range result.Windows {
			insights.Windows[string(window)] = snapshotFromResult(snapshot)
		}
	}
	if len(result.Shifts) > 0 {
		insights.Shifts = result.Shifts
	}

	a.respondJSON(w, http.StatusOK, insights)
}
