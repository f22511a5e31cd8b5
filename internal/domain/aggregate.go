package domain

import (
	"context"
	"time"
)

// Aggregate is a full-rewrite summary per (thread, cast, window). The window
// column includes the literal "overall" row alongside the per-window ones.
type Aggregate struct {
	ThreadID     int64
	CastMemberID int64
	TimeWindow   TimeWindow

	NetSentiment   float64
	CILower        float64
	CIUpper        float64
	PositivePct    float64
	NeutralPct     float64
	NegativePct    float64
	AgreementScore float64
	MentionCount   int64
	ComputedAt     time.Time
}

type AggregateRepository interface {
	ListByThread(ctx context.Context, threadID int64) ([]Aggregate, error)

	// ReplaceForThread deletes every row for the thread and inserts the new
	// set. Callers run it on a transaction-scoped repository so readers see
	// either the old rows or the new ones.
	ReplaceForThread(ctx context.Context, threadID int64, aggregates []*Aggregate) error
}
