package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/repository"
	"github.com/therealityreport/socializer-backend/internal/testhelper"
)

// testTx opens a transaction that is rolled back when the test finishes, so
// repositories under test never leave rows behind. Fixtures and assertions
// share the transaction.
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

func seedCastMember(t *testing.T, tx pgx.Tx, slug string, aliases ...string) domain.CastMember {
	t.Helper()

	member := domain.CastMember{
		Slug:        slug,
		FullName:    "Kyle Richards",
		DisplayName: "Kyle",
		Show:        "RHOBH",
		Aliases:     aliases,
		IsActive:    true,
	}

	require.NoError(t, repository.NewPostgresCastMember(tx).Create(context.Background(), &member))
	return member
}

func seedComment(t *testing.T, tx pgx.Tx, threadID int64, redditID string, createdAt time.Time) domain.Comment {
	t.Helper()

	comment := domain.Comment{
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		ThreadID:   threadID,
		RedditID:   redditID,
		AuthorHash: "a1b2c3",
		Body:       "she was actually great this episode",
		Score:      3,
		TimeWindow: domain.WindowLive,
	}

	require.NoError(t, repository.NewPostgresComment(tx).Create(context.Background(), &comment))
	return comment
}
