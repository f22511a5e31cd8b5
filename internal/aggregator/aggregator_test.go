package aggregator_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/aggregator"
	"github.com/therealityreport/socializer-backend/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestComputeVoteWeighted(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 1, SentimentLabel: domain.SentimentPositive, CommentScore: 10, TimeWindow: domain.WindowLive},
		{CastMemberID: 1, SentimentLabel: domain.SentimentNegative, CommentScore: 2, TimeWindow: domain.WindowDayOf},
		{CastMemberID: 2, SentimentLabel: domain.SentimentNeutral, CommentScore: 0, TimeWindow: domain.WindowLive},
		{CastMemberID: 2, SentimentLabel: domain.SentimentNegative, CommentScore: -3, TimeWindow: domain.WindowAfter},
	}

	got := aggregator.Compute(99, mentions, time.Now())

	require.Len(t, got.Casts, 2)
	assert.EqualValues(t, 4, got.TotalMentions)

	cast1 := got.Casts[1]
	assert.InDelta(t, 8.0/14.0, cast1.Overall.NetSentiment, 0.0001)
	assert.InDelta(t, 0.5, cast1.ShareOfVoice, 0.0001)
	assert.EqualValues(t, 2, cast1.Overall.MentionCount)
	assert.InDelta(t, 0.5, cast1.Overall.PositivePct, 0.0001)
	assert.InDelta(t, 0.5, cast1.Overall.NegativePct, 0.0001)
	assert.InDelta(t, 7.0, cast1.Overall.AgreementScore, 0.0001)

	cast2 := got.Casts[2]
	assert.InDelta(t, -0.5, cast2.Overall.NetSentiment, 0.0001)

	// A negative-only window pins net sentiment at the clamp boundary.
	assert.InDelta(t, -1.0, got.Windows[domain.WindowDayOf].NetSentiment, 0.0001)
	assert.InDelta(t, 11.0/12.0, got.Windows[domain.WindowLive].NetSentiment, 0.0001)

	require.Contains(t, got.Shifts, aggregator.ShiftDayOfVsLive)
	assert.InDelta(t, -1.9167, got.Shifts[aggregator.ShiftDayOfVsLive], 0.001)
	assert.Contains(t, got.Shifts, aggregator.ShiftAfterVsLive)
	assert.Contains(t, got.Shifts, aggregator.ShiftAfterVsDayOf)
}

func TestComputeExplicitWeightOverridesScore(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 1, SentimentLabel: domain.SentimentPositive, CommentScore: 500, TimeWindow: domain.WindowLive, Weight: ptr(1)},
		{CastMemberID: 1, SentimentLabel: domain.SentimentNegative, CommentScore: 0, TimeWindow: domain.WindowLive, Weight: ptr(3)},
	}

	got := aggregator.Compute(1, mentions, time.Now())

	// (1 - 3) / 4: the curated weights count, the comment score does not.
	assert.InDelta(t, -0.5, got.Casts[1].Overall.NetSentiment, 0.0001)
}

func TestComputeAllZeroWeights(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 1, SentimentLabel: domain.SentimentPositive, TimeWindow: domain.WindowLive, Weight: ptr(0)},
		{CastMemberID: 1, SentimentLabel: domain.SentimentNegative, TimeWindow: domain.WindowLive, Weight: ptr(0)},
	}

	got := aggregator.Compute(1, mentions, time.Now())

	// Division falls back to the mention count, so net stays finite.
	snapshot := got.Casts[1].Overall
	assert.Zero(t, snapshot.NetSentiment)
	assert.False(t, math.IsNaN(snapshot.NetSentiment))
	assert.Zero(t, snapshot.AgreementScore)
}

func TestComputeBounds(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 7, SentimentLabel: domain.SentimentPositive, CommentScore: 100, TimeWindow: domain.WindowLive},
		{CastMemberID: 7, SentimentLabel: domain.SentimentPositive, CommentScore: 3, TimeWindow: domain.WindowDayOf},
		{CastMemberID: 7, SentimentLabel: domain.SentimentNegative, CommentScore: 9, TimeWindow: domain.WindowAfter},
		{CastMemberID: 7, SentimentLabel: domain.SentimentNeutral, CommentScore: 1, TimeWindow: domain.WindowAfter},
	}

	got := aggregator.Compute(5, mentions, time.Now())

	for _, cast := range got.Casts {
		snapshots := []aggregator.Snapshot{cast.Overall}
		for _, s := range cast.Windows {
			snapshots = append(snapshots, s)
		}
		for _, s := range snapshots {
			assert.GreaterOrEqual(t, s.NetSentiment, -1.0)
			assert.LessOrEqual(t, s.NetSentiment, 1.0)
			assert.LessOrEqual(t, s.CILower, s.NetSentiment)
			assert.GreaterOrEqual(t, s.CIUpper, s.NetSentiment)
			assert.InDelta(t, 1.0, s.PositivePct+s.NeutralPct+s.NegativePct, 0.0001)
		}
	}
}

func TestComputeSingleMentionHasZeroSpreadCI(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 1, SentimentLabel: domain.SentimentNegative, CommentScore: 4, TimeWindow: domain.WindowLive},
	}

	got := aggregator.Compute(1, mentions, time.Now())

	snapshot := got.Casts[1].Overall
	assert.InDelta(t, snapshot.NetSentiment, snapshot.CILower, 0.0001)
	assert.InDelta(t, snapshot.NetSentiment, snapshot.CIUpper, 0.0001)
}

func TestComputeEmpty(t *testing.T) {
	t.Parallel()

	got := aggregator.Compute(42, nil, time.Now())

	assert.Zero(t, got.TotalMentions)
	assert.Empty(t, got.Casts)
	assert.Empty(t, got.Windows)
	assert.Empty(t, got.Shifts)
	assert.Empty(t, got.Rows())
}

func TestComputeDeterministic(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 3, SentimentLabel: domain.SentimentPositive, CommentScore: 5, TimeWindow: domain.WindowLive},
		{CastMemberID: 1, SentimentLabel: domain.SentimentNegative, CommentScore: 2, TimeWindow: domain.WindowAfter},
		{CastMemberID: 2, SentimentLabel: domain.SentimentNeutral, CommentScore: 0, TimeWindow: domain.WindowDayOf},
		{CastMemberID: 1, SentimentLabel: domain.SentimentPositive, CommentScore: 8, TimeWindow: domain.WindowLive},
	}
	computedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	first := aggregator.Compute(7, mentions, computedAt)
	second := aggregator.Compute(7, mentions, computedAt)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Rows(), second.Rows())
}

func TestRowsLayout(t *testing.T) {
	t.Parallel()

	mentions := []domain.ThreadMention{
		{CastMemberID: 2, SentimentLabel: domain.SentimentPositive, CommentScore: 1, TimeWindow: domain.WindowLive},
		{CastMemberID: 1, SentimentLabel: domain.SentimentNegative, CommentScore: 1, TimeWindow: domain.WindowLive},
		{CastMemberID: 1, SentimentLabel: domain.SentimentPositive, CommentScore: 1, TimeWindow: domain.WindowAfter},
	}

	rows := aggregator.Compute(9, mentions, time.Now()).Rows()

	// One overall row per cast plus one per touched window, cast-ordered.
	require.Len(t, rows, 5)
	assert.EqualValues(t, 1, rows[0].CastMemberID)
	assert.Equal(t, domain.WindowOverall, rows[0].TimeWindow)
	assert.Equal(t, domain.WindowAfter, rows[1].TimeWindow)
	assert.Equal(t, domain.WindowLive, rows[2].TimeWindow)
	assert.EqualValues(t, 2, rows[3].CastMemberID)
	assert.Equal(t, domain.WindowOverall, rows[3].TimeWindow)
	assert.Equal(t, domain.WindowLive, rows[4].TimeWindow)

	for _, row := range rows {
		assert.EqualValues(t, 9, row.ThreadID)
	}
}
