package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/repository"
)

func TestPostgresAggregate_ReplaceForThread(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresAggregate(tx)

	thread := seedThread(t, tx, "1agg01")
	member := seedCastMember(t, tx, "agg-cast")

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := []*domain.Aggregate{
		{
			ThreadID:       thread.ID,
			CastMemberID:   member.ID,
			TimeWindow:     domain.WindowOverall,
			NetSentiment:   0.25,
			CILower:        0.1,
			CIUpper:        0.4,
			PositivePct:    0.5,
			NeutralPct:     0.25,
			NegativePct:    0.25,
			AgreementScore: 3.5,
			MentionCount:   8,
			ComputedAt:     now,
		},
		{
			ThreadID:     thread.ID,
			CastMemberID: member.ID,
			TimeWindow:   domain.WindowLive,
			NetSentiment: 0.5,
			MentionCount: 5,
			ComputedAt:   now,
		},
	}
	require.NoError(t, repo.ReplaceForThread(ctx, thread.ID, first))

	got, err := repo.ListByThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	second := []*domain.Aggregate{{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		TimeWindow:   domain.WindowOverall,
		NetSentiment: -0.1,
		MentionCount: 12,
		ComputedAt:   now.Add(time.Minute),
	}}
	require.NoError(t, repo.ReplaceForThread(ctx, thread.ID, second))

	got, err = repo.ListByThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, domain.WindowOverall, got[0].TimeWindow)
	assert.InDelta(t, -0.1, got[0].NetSentiment, 0.0001)
	assert.Equal(t, int64(12), got[0].MentionCount)
}

func TestPostgresAggregate_ReplaceEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresAggregate(tx)

	thread := seedThread(t, tx, "1agg02")
	member := seedCastMember(t, tx, "agg-empty-cast")

	require.NoError(t, repo.ReplaceForThread(ctx, thread.ID, []*domain.Aggregate{{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		TimeWindow:   domain.WindowOverall,
		MentionCount: 1,
		ComputedAt:   time.Now().UTC(),
	}}))

	// A thread whose mentions all disappeared ends up with zero rows.
	require.NoError(t, repo.ReplaceForThread(ctx, thread.ID, nil))

	got, err := repo.ListByThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
