package repository

import (
	"context"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresAggregateRepository struct {
	conn Connection
}

func NewPostgresAggregate(conn Connection) domain.AggregateRepository {
	return &postgresAggregateRepository{conn: conn}
}

func (p *postgresAggregateRepository) ListByThread(ctx context.Context, threadID int64) ([]domain.Aggregate, error) {
	query := `
		SELECT thread_id, cast_member_id, time_window, net_sentiment, ci_lower, ci_upper, positive_pct, neutral_pct, negative_pct, agreement_score, mention_count, computed_at
		FROM aggregates
		WHERE thread_id = $1
		ORDER BY cast_member_id ASC, time_window ASC`

	rows, err := p.conn.Query(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []domain.Aggregate
	for rows.Next() {
		var agg domain.Aggregate
		if err := rows.Scan(
			&agg.ThreadID,
			&agg.CastMemberID,
			&agg.TimeWindow,
			&agg.NetSentiment,
			&agg.CILower,
			&agg.CIUpper,
			&agg.PositivePct,
			&agg.NeutralPct,
			&agg.NegativePct,
			&agg.AgreementScore,
			&agg.MentionCount,
			&agg.ComputedAt,
		); err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

func (p *postgresAggregateRepository) ReplaceForThread(ctx context.Context, threadID int64, aggregates []*domain.Aggregate) error {
	if _, err := p.conn.Exec(ctx, `DELETE FROM aggregates WHERE thread_id = $1`, threadID); err != nil {
		return err
	}

	query := `
		INSERT INTO aggregates
			(thread_id, cast_member_id, time_window, net_sentiment, ci_lower, ci_upper, positive_pct, neutral_pct, negative_pct, agreement_score, mention_count, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for _, agg := range aggregates {
		_, err := p.conn.Exec(
			ctx,
			query,
			threadID,
			agg.CastMemberID,
			agg.TimeWindow,
			agg.NetSentiment,
			agg.CILower,
			agg.CIUpper,
			agg.PositivePct,
			agg.NeutralPct,
			agg.NegativePct,
			agg.AgreementScore,
			agg.MentionCount,
			agg.ComputedAt,
		)
		if err != nil {
			return conflictErr(err)
		}
	}
	return nil
}
