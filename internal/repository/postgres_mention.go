package repository

import (
	"context"
	"time"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresMentionRepository struct {
	conn Connection
}

func NewPostgresMention(conn Connection) domain.MentionRepository {
	return &postgresMentionRepository{conn: conn}
}

func (p *postgresMentionRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.Mention, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentions []domain.Mention
	for rows.Next() {
		var mention domain.Mention
		if err := rows.Scan(
			&mention.ID,
			&mention.CreatedAt,
			&mention.CommentID,
			&mention.CommentCreatedAt,
			&mention.CastMemberID,
			&mention.SentimentLabel,
			&mention.SentimentScore,
			&mention.Confidence,
			&mention.Weight,
			&mention.Method,
			&mention.Quote,
			&mention.IsSarcastic,
			&mention.IsToxic,
		); err != nil {
			return nil, err
		}
		mentions = append(mentions, mention)
	}
	return mentions, rows.Err()
}

func (p *postgresMentionRepository) ListByComment(ctx context.Context, commentID int64, commentCreatedAt time.Time) ([]domain.Mention, error) {
	query := `
		SELECT id, created_at, comment_id, comment_created_at, cast_member_id, sentiment_label, sentiment_score, confidence, weight, method, quote, is_sarcastic, is_toxic
		FROM mentions
		WHERE comment_id = $1 AND comment_created_at = $2
		ORDER BY cast_member_id ASC`

	return p.fetch(ctx, query, commentID, commentCreatedAt)
}

// ListForThread projects every mention in a thread together with the comment
// fields the aggregator needs. Mentions of deactivated cast members are left
// out so retired names stop accruing metrics.
func (p *postgresMentionRepository) ListForThread(ctx context.Context, threadID int64) ([]domain.ThreadMention, error) {
	query := `
		SELECT m.cast_member_id, m.sentiment_label, m.sentiment_score, c.score, c.time_window, m.weight
		FROM mentions m
		INNER JOIN comments c ON c.id = m.comment_id AND c.created_at = m.comment_created_at
		INNER JOIN cast_members cm ON cm.id = m.cast_member_id
		WHERE c.thread_id = $1 AND cm.is_active`

	rows, err := p.conn.Query(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tms []domain.ThreadMention
	for rows.Next() {
		var tm domain.ThreadMention
		if err := rows.Scan(
			&tm.CastMemberID,
			&tm.SentimentLabel,
			&tm.SentimentScore,
			&tm.CommentScore,
			&tm.TimeWindow,
			&tm.Weight,
		); err != nil {
			return nil, err
		}
		tms = append(tms, tm)
	}
	return tms, rows.Err()
}

func (p *postgresMentionRepository) CountForThread(ctx context.Context, threadID int64) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM mentions m
		INNER JOIN comments c ON c.id = m.comment_id AND c.created_at = m.comment_created_at
		WHERE c.thread_id = $1`

	var count int64
	if err := p.conn.QueryRow(ctx, query, threadID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *postgresMentionRepository) CreateBatch(ctx context.Context, mentions []*domain.Mention) error {
	query := `
		INSERT INTO mentions
			(comment_id, comment_created_at, cast_member_id, sentiment_label, sentiment_score, confidence, weight, method, quote, is_sarcastic, is_toxic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	for _, mention := range mentions {
		err := p.conn.QueryRow(
			ctx,
			query,
			mention.CommentID,
			mention.CommentCreatedAt,
			mention.CastMemberID,
			mention.SentimentLabel,
			mention.SentimentScore,
			mention.Confidence,
			mention.Weight,
			mention.Method,
			mention.Quote,
			mention.IsSarcastic,
			mention.IsToxic,
		).Scan(&mention.ID, &mention.CreatedAt)
		if err != nil {
			return conflictErr(err)
		}
	}
	return nil
}

func (p *postgresMentionRepository) DeleteByComment(ctx context.Context, commentID int64, commentCreatedAt time.Time) error {
	query := `DELETE FROM mentions WHERE comment_id = $1 AND comment_created_at = $2`

	_, err := p.conn.Exec(ctx, query, commentID, commentCreatedAt)
	return err
}
