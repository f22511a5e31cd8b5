package alerting_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/alerting"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/repository"
	"github.com/therealityreport/socializer-backend/internal/testhelper"
)

func testTx(t *testing.T) pgx.Tx {
	t.Helper()

	ctx := context.Background()
	conn := testhelper.NewTestPgxConn(t)

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = tx.Rollback(context.Background())
	})

	return tx
}

func seedThread(t *testing.T, tx pgx.Tx, redditID string) domain.Thread {
	t.Helper()

	thread := domain.Thread{
		RedditID:  redditID,
		Subreddit: "realityshow",
		Title:     "Episode Discussion: S14E02",
		URL:       fmt.Sprintf("https://www.reddit.com/r/realityshow/comments/%s/", redditID),
		AirsAt:    time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
		Status:    domain.ThreadStatusLive,
	}

	require.NoError(t, repository.NewPostgresThread(tx).Create(context.Background(), &thread))
	return thread
}

func seedCastMember(t *testing.T, tx pgx.Tx, slug string) domain.CastMember {
	t.Helper()

	member := domain.CastMember{
		Slug:        slug,
		FullName:    "Lisa Barlow",
		DisplayName: "Lisa",
		Show:        "RHOSLC",
		IsActive:    true,
	}

	require.NoError(t, repository.NewPostgresCastMember(tx).Create(context.Background(), &member))
	return member
}

func seedAggregates(t *testing.T, tx pgx.Tx, threadID int64, aggregates []*domain.Aggregate) {
	t.Helper()

	now := time.Now()
	for _, aggregate := range aggregates {
		aggregate.ThreadID = threadID
		aggregate.ComputedAt = now
	}

	require.NoError(t, repository.NewPostgresAggregate(tx).ReplaceForThread(context.Background(), threadID, aggregates))
}

func seedRule(t *testing.T, tx pgx.Tx, rule *domain.AlertRule) *domain.AlertRule {
	t.Helper()

	if rule.Name == "" {
		rule.Name = "sentiment drop"
	}
	rule.RuleType = domain.RuleTypeSentimentDrop
	rule.IsActive = true
	if len(rule.Channels) == 0 {
		rule.Channels = []domain.AlertChannel{domain.ChannelSlack}
	}

	require.NoError(t, repository.NewPostgresAlertRule(tx).Create(context.Background(), rule))
	return rule
}

func newEvaluator(tx pgx.Tx) *alerting.Evaluator {
	return alerting.NewEvaluator(
		zap.NewNop(),
		&statsd.NoOpClient{},
		repository.NewPostgresAlertRule(tx),
		repository.NewPostgresAlertEvent(tx),
		repository.NewPostgresAggregate(tx),
	)
}

func TestEvaluateThreadBaselineDelta(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "alrt_e5")
	member := seedCastMember(t, tx, "lisa-barlow-e5")
	seedAggregates(t, tx, thread.ID, []*domain.Aggregate{
		{CastMemberID: member.ID, TimeWindow: domain.WindowOverall, NetSentiment: 0.2, MentionCount: 10},
		{CastMemberID: member.ID, TimeWindow: domain.WindowLive, NetSentiment: -0.4, MentionCount: 4},
	})
	seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition: domain.RuleCondition{
			Window:         domain.WindowLive,
			BaselineWindow: domain.WindowOverall,
			Comparison:     domain.ComparisonLT,
			Threshold:      -0.4,
		},
	})

	evaluator := newEvaluator(tx)

	events, err := evaluator.EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	payload := events[0].Payload
	assert.Equal(t, domain.MetricNetSentiment, payload.Metric)
	assert.Equal(t, domain.WindowLive, payload.Window)
	assert.Equal(t, member.ID, payload.CastMemberID)
	assert.InDelta(t, -0.4, payload.Value, 0.0001)
	require.NotNil(t, payload.BaselineValue)
	assert.InDelta(t, 0.2, *payload.BaselineValue, 0.0001)
	require.NotNil(t, payload.Delta)
	assert.InDelta(t, -0.6, *payload.Delta, 0.0001)

	// Unchanged aggregates do not fire a second event.
	again, err := evaluator.EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEvaluateThreadRefiresWhenDataMoves(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "alrt_move")
	member := seedCastMember(t, tx, "lisa-barlow-move")
	seedAggregates(t, tx, thread.ID, []*domain.Aggregate{
		{CastMemberID: member.ID, TimeWindow: domain.WindowLive, NetSentiment: -0.5, MentionCount: 4},
	})
	seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition: domain.RuleCondition{
			Window:    domain.WindowLive,
			Threshold: -0.4,
		},
	})

	evaluator := newEvaluator(tx)

	events, err := evaluator.EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, -0.5, events[0].Payload.Value, 0.0001)

	// The same value is suppressed, a lower one fires again.
	seedAggregates(t, tx, thread.ID, []*domain.Aggregate{
		{CastMemberID: member.ID, TimeWindow: domain.WindowLive, NetSentiment: -0.7, MentionCount: 6},
	})

	events, err = evaluator.EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, -0.7, events[0].Payload.Value, 0.0001)
}

func TestEvaluateThreadGlobalRule(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "alrt_glob")
	member := seedCastMember(t, tx, "lisa-barlow-glob")
	seedAggregates(t, tx, thread.ID, []*domain.Aggregate{
		{CastMemberID: member.ID, TimeWindow: domain.WindowOverall, NetSentiment: -0.9, MentionCount: 12},
	})
	seedRule(t, tx, &domain.AlertRule{
		Condition: domain.RuleCondition{
			Window:       domain.WindowOverall,
			Threshold:    -0.4,
			CastMemberID: member.ID,
		},
	})

	events, err := newEvaluator(tx).EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, thread.ID, events[0].ThreadID)
	assert.Equal(t, member.ID, events[0].CastMemberID)
}

func TestEvaluateThreadSkipsMisconfiguredRule(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "alrt_miscfg")
	member := seedCastMember(t, tx, "lisa-barlow-miscfg")
	seedAggregates(t, tx, thread.ID, []*domain.Aggregate{
		{CastMemberID: member.ID, TimeWindow: domain.WindowLive, NetSentiment: -0.8, MentionCount: 3},
	})

	// Names no cast member at all; evaluation skips it and carries on.
	seedRule(t, tx, &domain.AlertRule{
		ThreadID: thread.ID,
		Condition: domain.RuleCondition{
			Window:    domain.WindowLive,
			Threshold: -0.4,
		},
	})
	seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition: domain.RuleCondition{
			Window:    domain.WindowLive,
			Threshold: -0.4,
		},
	})

	events, err := newEvaluator(tx).EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, member.ID, events[0].CastMemberID)
}

func TestEvaluateThreadNoSnapshotNoTrigger(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "alrt_nodata")
	member := seedCastMember(t, tx, "lisa-barlow-nodata")
	seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition: domain.RuleCondition{
			Window:    domain.WindowAfter,
			Threshold: -0.4,
		},
	})

	events, err := newEvaluator(tx).EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEvaluateThreadMentionCountMetric(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	ctx := context.Background()

	thread := seedThread(t, tx, "alrt_count")
	member := seedCastMember(t, tx, "lisa-barlow-count")
	seedAggregates(t, tx, thread.ID, []*domain.Aggregate{
		{CastMemberID: member.ID, TimeWindow: domain.WindowOverall, NetSentiment: 0.4, MentionCount: 150},
	})
	seedRule(t, tx, &domain.AlertRule{
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		Condition: domain.RuleCondition{
			Metric:     domain.MetricMentionCount,
			Window:     domain.WindowOverall,
			Comparison: domain.ComparisonGTE,
			Threshold:  100,
		},
	})

	events, err := newEvaluator(tx).EvaluateThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.MetricMentionCount, events[0].Payload.Metric)
	assert.InDelta(t, 150, events[0].Payload.Value, 0.0001)
	assert.Nil(t, events[0].Payload.Delta)
}
