package domain

import (
	"context"
	"time"
)

type MentionMethod string

const (
	MethodExact     MentionMethod = "exact"
	MethodExactNER  MentionMethod = "exact_ner"
	MethodFuzzy     MentionMethod = "fuzzy"
	MethodInherited MentionMethod = "inherited_context"
)

// Mention links one comment to one cast member. Re-linking a comment
// replaces its whole mention set, so there is never more than one row per
// (comment, cast) pair.
type Mention struct {
	ID        int64
	CreatedAt time.Time

	CommentID        int64
	CommentCreatedAt time.Time
	CastMemberID     int64

	SentimentLabel SentimentLabel
	SentimentScore float64
	Confidence     float64
	Weight         *float64
	Method         MentionMethod
	Quote          string
	IsSarcastic    bool
	IsToxic        bool
}

// ThreadMention is the projection the aggregator consumes: one row per
// mention of an active cast member, joined with its comment's score and
// window.
type ThreadMention struct {
	CastMemberID   int64
	SentimentLabel SentimentLabel
	SentimentScore float64
	CommentScore   int64
	TimeWindow     TimeWindow
	Weight         *float64
}

type MentionRepository interface {
	ListByComment(ctx context.Context, commentID int64, commentCreatedAt time.Time) ([]Mention, error)
	ListForThread(ctx context.Context, threadID int64) ([]ThreadMention, error)
	CountForThread(ctx context.Context, threadID int64) (int64, error)

	CreateBatch(ctx context.Context, mentions []*Mention) error
	DeleteByComment(ctx context.Context, commentID int64, commentCreatedAt time.Time) error
}
