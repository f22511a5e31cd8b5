package domain

import (
	"context"
	"time"
)

// RedditThread is the raw upstream snapshot of a submission, refreshed on
// every ingest. The analytic Thread row references it by reddit_id only.
type RedditThread struct {
	ID int64

	RedditID    string
	Subreddit   string
	Title       string
	Author      string
	Permalink   string
	Score       int64
	NumComments int64
	IsArchived  bool
	PostedAt    time.Time

	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

type RedditThreadRepository interface {
	GetByRedditID(ctx context.Context, redditID string) (RedditThread, error)

	CreateOrUpdate(ctx context.Context, rt *RedditThread) error
}
