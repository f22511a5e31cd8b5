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

func TestPostgresMention_CreateBatchList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresMention(tx)

	thread := seedThread(t, tx, "1mnt01")
	kyle := seedCastMember(t, tx, "kyle-richards", "kyle")
	lisa := seedCastMember(t, tx, "lisa-rinna", "rinna")
	comment := seedComment(t, tx, thread.ID, "m1aaa", time.Now().UTC().Truncate(time.Millisecond))

	weight := 4.0
	mentions := []*domain.Mention{
		{
			CommentID:        comment.ID,
			CommentCreatedAt: comment.CreatedAt,
			CastMemberID:     kyle.ID,
			SentimentLabel:   domain.SentimentPositive,
			SentimentScore:   0.91,
			Confidence:       0.95,
			Weight:           &weight,
			Method:           domain.MethodExact,
			Quote:            "kyle was great tonight",
		},
		{
			CommentID:        comment.ID,
			CommentCreatedAt: comment.CreatedAt,
			CastMemberID:     lisa.ID,
			SentimentLabel:   domain.SentimentNegative,
			SentimentScore:   0.4,
			Confidence:       0.85,
			Method:           domain.MethodFuzzy,
			Quote:            "rinna though...",
			IsSarcastic:      true,
		},
	}
	require.NoError(t, repo.CreateBatch(ctx, mentions))
	assert.NotZero(t, mentions[0].ID)
	assert.NotZero(t, mentions[1].ID)

	got, err := repo.ListByComment(ctx, comment.ID, comment.CreatedAt)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].Weight)
	assert.InDelta(t, 4.0, *got[0].Weight, 0.0001)
	assert.Nil(t, got[1].Weight)
	assert.Equal(t, domain.MethodFuzzy, got[1].Method)
	assert.True(t, got[1].IsSarcastic)

	count, err := repo.CountForThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPostgresMention_ListForThread(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresMention(tx)

	thread := seedThread(t, tx, "1mnt02")
	active := seedCastMember(t, tx, "active-cast")
	retired := seedCastMember(t, tx, "retired-cast")

	retired.IsActive = false
	require.NoError(t, repository.NewPostgresCastMember(tx).Update(ctx, &retired))

	comment := seedComment(t, tx, thread.ID, "m2aaa", time.Now().UTC().Truncate(time.Millisecond))

	require.NoError(t, repo.CreateBatch(ctx, []*domain.Mention{
		{
			CommentID:        comment.ID,
			CommentCreatedAt: comment.CreatedAt,
			CastMemberID:     active.ID,
			SentimentLabel:   domain.SentimentPositive,
			SentimentScore:   0.8,
			Confidence:       0.95,
			Method:           domain.MethodExact,
		},
		{
			CommentID:        comment.ID,
			CommentCreatedAt: comment.CreatedAt,
			CastMemberID:     retired.ID,
			SentimentLabel:   domain.SentimentNegative,
			SentimentScore:   0.7,
			Confidence:       0.95,
			Method:           domain.MethodExact,
		},
	}))

	tms, err := repo.ListForThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, tms, 1)

	assert.Equal(t, active.ID, tms[0].CastMemberID)
	assert.Equal(t, comment.Score, tms[0].CommentScore)
	assert.Equal(t, domain.WindowLive, tms[0].TimeWindow)
}

func TestPostgresMention_DeleteByComment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresMention(tx)

	thread := seedThread(t, tx, "1mnt03")
	member := seedCastMember(t, tx, "delete-cast")
	comment := seedComment(t, tx, thread.ID, "m3aaa", time.Now().UTC().Truncate(time.Millisecond))

	require.NoError(t, repo.CreateBatch(ctx, []*domain.Mention{{
		CommentID:        comment.ID,
		CommentCreatedAt: comment.CreatedAt,
		CastMemberID:     member.ID,
		SentimentLabel:   domain.SentimentNeutral,
		Confidence:       0.95,
		Method:           domain.MethodExact,
	}}))

	require.NoError(t, repo.DeleteByComment(ctx, comment.ID, comment.CreatedAt))

	got, err := repo.ListByComment(ctx, comment.ID, comment.CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Deleting an unlinked comment is not an error, relink runs it blindly.
	require.NoError(t, repo.DeleteByComment(ctx, comment.ID, comment.CreatedAt))
}

func TestPostgresMention_DuplicatePair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tx := testTx(t)
	repo := repository.NewPostgresMention(tx)

	thread := seedThread(t, tx, "1mnt04")
	member := seedCastMember(t, tx, "dupe-cast")
	comment := seedComment(t, tx, thread.ID, "m4aaa", time.Now().UTC().Truncate(time.Millisecond))

	mention := &domain.Mention{
		CommentID:        comment.ID,
		CommentCreatedAt: comment.CreatedAt,
		CastMemberID:     member.ID,
		SentimentLabel:   domain.SentimentNeutral,
		Confidence:       0.95,
		Method:           domain.MethodExact,
	}
	require.NoError(t, repo.CreateBatch(ctx, []*domain.Mention{mention}))

	dupe := *mention
	dupe.ID = 0
	assert.ErrorIs(t, repo.CreateBatch(ctx, []*domain.Mention{&dupe}), domain.ErrConflict)
}
