package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/repository"
)

func TestPostgresAlertRule_CreateGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresAlertRule(tx)

	thread := seedThread(t, tx, "1rul01")
	member := seedCastMember(t, tx, "rule-cast")

	rule := domain.AlertRule{
		Name:         "kyle live drop",
		ThreadID:     thread.ID,
		CastMemberID: member.ID,
		RuleType:     domain.RuleTypeSentimentDrop,
		Condition: domain.RuleCondition{
			Window:         domain.WindowLive,
			Threshold:      -0.3,
			BaselineWindow: domain.WindowDayOf,
			Emails:         domain.EmailList{"producers@example.com"},
		},
		IsActive: true,
		Channels: []domain.AlertChannel{domain.ChannelSlack, domain.ChannelEmail},
	}
	require.NoError(t, repo.Create(ctx, &rule))
	assert.NotZero(t, rule.ID)

	got, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, got.ThreadID)
	assert.Equal(t, member.ID, got.CastMemberID)
	assert.Equal(t, domain.WindowLive, got.Condition.Window)
	assert.Equal(t, domain.WindowDayOf, got.Condition.BaselineWindow)
	assert.Equal(t, domain.EmailList{"producers@example.com"}, got.Condition.Emails)
	assert.ElementsMatch(t, []domain.AlertChannel{domain.ChannelSlack, domain.ChannelEmail}, got.Channels)

	_, err = repo.GetByID(ctx, rule.ID+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresAlertRule_GlobalScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresAlertRule(tx)

	thread := seedThread(t, tx, "1rul02")
	other := seedThread(t, tx, "1rul03")

	global := domain.AlertRule{
		Name:     "any thread negativity",
		RuleType: domain.RuleTypeSentimentDrop,
		Condition: domain.RuleCondition{
			Window:    domain.WindowOverall,
			Threshold: -0.5,
		},
		IsActive: true,
		Channels: []domain.AlertChannel{domain.ChannelSlack},
	}
	require.NoError(t, repo.Create(ctx, &global))

	scoped := domain.AlertRule{
		Name:     "this episode only",
		ThreadID: thread.ID,
		RuleType: domain.RuleTypeSentimentDrop,
		Condition: domain.RuleCondition{
			Window:    domain.WindowLive,
			Threshold: -0.2,
		},
		IsActive: true,
		Channels: []domain.AlertChannel{domain.ChannelSlack},
	}
	require.NoError(t, repo.Create(ctx, &scoped))

	paused := domain.AlertRule{
		Name:     "paused rule",
		ThreadID: thread.ID,
		RuleType: domain.RuleTypeSentimentDrop,
		Condition: domain.RuleCondition{
			Window:    domain.WindowLive,
			Threshold: -0.2,
		},
		Channels: []domain.AlertChannel{domain.ChannelSlack},
	}
	require.NoError(t, repo.Create(ctx, &paused))

	roundTrip, err := repo.GetByID(ctx, global.ID)
	require.NoError(t, err)
	assert.True(t, roundTrip.Global())

	forThread, err := repo.ListActiveForThread(ctx, thread.ID)
	require.NoError(t, err)

	ids := make([]int64, len(forThread))
	for i, r := range forThread {
		ids[i] = r.ID
	}
	assert.Contains(t, ids, global.ID)
	assert.Contains(t, ids, scoped.ID)
	assert.NotContains(t, ids, paused.ID)

	forOther, err := repo.ListActiveForThread(ctx, other.ID)
	require.NoError(t, err)

	ids = ids[:0]
	for _, r := range forOther {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, global.ID)
	assert.NotContains(t, ids, scoped.ID)
}

func TestPostgresAlertRule_UpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresAlertRule(tx)

	rule := domain.AlertRule{
		Name:     "tweak me",
		RuleType: domain.RuleTypeSentimentDrop,
		Condition: domain.RuleCondition{
			Window:    domain.WindowOverall,
			Threshold: -0.5,
		},
		IsActive: true,
		Channels: []domain.AlertChannel{domain.ChannelSlack},
	}
	require.NoError(t, repo.Create(ctx, &rule))

	rule.Name = "tweaked"
	rule.IsActive = false
	rule.Condition.Threshold = -0.25
	rule.Condition.Comparison = domain.ComparisonLT
	require.NoError(t, repo.Update(ctx, &rule))

	got, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "tweaked", got.Name)
	assert.False(t, got.IsActive)
	assert.InDelta(t, -0.25, got.Condition.Threshold, 0.0001)
	assert.Equal(t, domain.ComparisonLT, got.Condition.Comparison)

	require.NoError(t, repo.Delete(ctx, rule.ID))
	_, err = repo.GetByID(ctx, rule.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
