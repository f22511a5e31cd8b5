package domain

import (
	"context"
	"time"
)

type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// CommentSort values accepted by the comment listing endpoint.
type CommentSort string

const (
	SortNew           CommentSort = "new"
	SortOld           CommentSort = "old"
	SortMostReplies   CommentSort = "most_replies"
	SortMostUpvotes   CommentSort = "most_upvotes"
	SortSentimentAsc  CommentSort = "sentiment_asc"
	SortSentimentDesc CommentSort = "sentiment_desc"
)

// Comment rows live in partitions ranged on CreatedAt, so every reference to
// a comment carries (ID, CreatedAt) together.
type Comment struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time

	ThreadID       int64
	RedditID       string
	ParentRedditID string
	AuthorHash     string
	Body           string
	Score          int64
	ReplyCount     int64
	TimeWindow     TimeWindow

	// Classifier output
	SentimentLabel     SentimentLabel
	SentimentScore     float64
	SentimentBreakdown []byte
	IsSarcastic        bool
	SarcasmConfidence  float64
	IsToxic            bool
	ToxicityConfidence float64
	ModelVersion       string
}

// Classified reports whether the classifier has stamped this comment yet.
func (c *Comment) Classified() bool {
	return c.SentimentLabel != ""
}

// Root reports whether the comment replies directly to the submission.
func (c *Comment) Root() bool {
	return c.ParentRedditID == ""
}

// CommentRef identifies one row in the partitioned comment store.
type CommentRef struct {
	ID        int64
	CreatedAt time.Time
}

type CommentListOptions struct {
	Sort   CommentSort
	Limit  int
	Offset int
}

type CommentRepository interface {
	GetByIDs(ctx context.Context, ids []int64) ([]Comment, error)
	GetByRedditID(ctx context.Context, threadID int64, redditID string) (Comment, error)
	ListByThread(ctx context.Context, threadID int64, opts CommentListOptions) ([]Comment, error)
	ListRedditIDs(ctx context.Context, threadID int64, redditIDs []string) (map[string]Comment, error)
	ListIDsByThread(ctx context.Context, threadID int64) ([]int64, error)
	CountByThread(ctx context.Context, threadID int64) (int64, error)

	Create(ctx context.Context, comment *Comment) error
	Update(ctx context.Context, comment *Comment) error
	UpdateSentiment(ctx context.Context, comment *Comment) error
	IncrementReplyCounts(ctx context.Context, refs []CommentRef, seenAt time.Time) error
}
