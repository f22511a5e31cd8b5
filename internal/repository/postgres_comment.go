package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresCommentRepository struct {
	conn Connection
}

func NewPostgresComment(conn Connection) domain.CommentRepository {
	return &postgresCommentRepository{conn: conn}
}

const commentColumns = `id, created_at, updated_at, thread_id, reddit_id, parent_reddit_id, author_hash, body, score, reply_count, time_window, sentiment_label, sentiment_score, sentiment_breakdown, is_sarcastic, sarcasm_confidence, is_toxic, toxicity_confidence, model_version`

func (p *postgresCommentRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.Comment, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var comment domain.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.CreatedAt,
			&comment.UpdatedAt,
			&comment.ThreadID,
			&comment.RedditID,
			&comment.ParentRedditID,
			&comment.AuthorHash,
			&comment.Body,
			&comment.Score,
			&comment.ReplyCount,
			&comment.TimeWindow,
			&comment.SentimentLabel,
			&comment.SentimentScore,
			&comment.SentimentBreakdown,
			&comment.IsSarcastic,
			&comment.SarcasmConfidence,
			&comment.IsToxic,
			&comment.ToxicityConfidence,
			&comment.ModelVersion,
		); err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func (p *postgresCommentRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.Comment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM comments WHERE id = ANY($1)`, commentColumns)

	return p.fetch(ctx, query, ids)
}

func (p *postgresCommentRepository) GetByRedditID(ctx context.Context, threadID int64, redditID string) (domain.Comment, error) {
	query := fmt.Sprintf(`SELECT %s FROM comments WHERE thread_id = $1 AND reddit_id = $2`, commentColumns)

	comments, err := p.fetch(ctx, query, threadID, redditID)

	if err != nil {
		return domain.Comment{}, err
	}
	if len(comments) == 0 {
		return domain.Comment{}, domain.ErrNotFound
	}
	return comments[0], nil
}

// sentimentOrder maps labels onto a signed score so that negative comments
// sort below neutral ones regardless of model confidence.
const sentimentOrder = `CASE sentiment_label
	WHEN 'negative' THEN -sentiment_score
	WHEN 'positive' THEN sentiment_score
	ELSE 0.0
END`

func (p *postgresCommentRepository) ListByThread(ctx context.Context, threadID int64, opts domain.CommentListOptions) ([]domain.Comment, error) {
	order := "created_at DESC"
	switch opts.Sort {
	case domain.SortOld:
		order = "created_at ASC"
	case domain.SortMostReplies:
		order = "reply_count DESC, created_at DESC"
	case domain.SortMostUpvotes:
		order = "score DESC, created_at DESC"
	case domain.SortSentimentAsc:
		order = sentimentOrder + " ASC, created_at DESC"
	case domain.SortSentimentDesc:
		order = sentimentOrder + " DESC, created_at DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM comments
		WHERE thread_id = $1
		ORDER BY %s
		LIMIT $2 OFFSET $3`, commentColumns, order)

	return p.fetch(ctx, query, threadID, limit, opts.Offset)
}

func (p *postgresCommentRepository) ListRedditIDs(ctx context.Context, threadID int64, redditIDs []string) (map[string]domain.Comment, error) {
	if len(redditIDs) == 0 {
		return map[string]domain.Comment{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM comments WHERE thread_id = $1 AND reddit_id = ANY($2)`, commentColumns)

	comments, err := p.fetch(ctx, query, threadID, redditIDs)
	if err != nil {
		return nil, err
	}

	byRedditID := make(map[string]domain.Comment, len(comments))
	for _, comment := range comments {
		byRedditID[comment.RedditID] = comment
	}
	return byRedditID, nil
}

func (p *postgresCommentRepository) ListIDsByThread(ctx context.Context, threadID int64) ([]int64, error) {
	query := `SELECT id FROM comments WHERE thread_id = $1 ORDER BY created_at ASC`

	rows, err := p.conn.Query(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *postgresCommentRepository) CountByThread(ctx context.Context, threadID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM comments WHERE thread_id = $1`

	var count int64
	if err := p.conn.QueryRow(ctx, query, threadID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *postgresCommentRepository) Create(ctx context.Context, comment *domain.Comment) error {
	query := `
		INSERT INTO comments
			(created_at, updated_at, thread_id, reddit_id, parent_reddit_id, author_hash, body, score, reply_count, time_window, sentiment_label, sentiment_score, sentiment_breakdown, is_sarcastic, sarcasm_confidence, is_toxic, toxicity_confidence, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`

	err := p.conn.QueryRow(
		ctx,
		query,
		comment.CreatedAt,
		comment.UpdatedAt,
		comment.ThreadID,
		comment.RedditID,
		comment.ParentRedditID,
		comment.AuthorHash,
		comment.Body,
		comment.Score,
		comment.ReplyCount,
		comment.TimeWindow,
		comment.SentimentLabel,
		comment.SentimentScore,
		comment.SentimentBreakdown,
		comment.IsSarcastic,
		comment.SarcasmConfidence,
		comment.IsToxic,
		comment.ToxicityConfidence,
		comment.ModelVersion,
	).Scan(&comment.ID)

	return conflictErr(err)
}

func (p *postgresCommentRepository) Update(ctx context.Context, comment *domain.Comment) error {
	query := `
		UPDATE comments
		SET updated_at = $3,
			body = $4,
			score = $5,
			reply_count = $6,
			time_window = $7,
			author_hash = $8
		WHERE id = $1 AND created_at = $2`

	res, err := p.conn.Exec(
		ctx,
		query,
		comment.ID,
		comment.CreatedAt,
		comment.UpdatedAt,
		comment.Body,
		comment.Score,
		comment.ReplyCount,
		comment.TimeWindow,
		comment.AuthorHash,
	)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}

func (p *postgresCommentRepository) UpdateSentiment(ctx context.Context, comment *domain.Comment) error {
	query := `
		UPDATE comments
		SET updated_at = $3,
			sentiment_label = $4,
			sentiment_score = $5,
			sentiment_breakdown = $6,
			is_sarcastic = $7,
			sarcasm_confidence = $8,
			is_toxic = $9,
			toxicity_confidence = $10,
			model_version = $11
		WHERE id = $1 AND created_at = $2`

	res, err := p.conn.Exec(
		ctx,
		query,
		comment.ID,
		comment.CreatedAt,
		comment.UpdatedAt,
		comment.SentimentLabel,
		comment.SentimentScore,
		comment.SentimentBreakdown,
		comment.IsSarcastic,
		comment.SarcasmConfidence,
		comment.IsToxic,
		comment.ToxicityConfidence,
		comment.ModelVersion,
	)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}

// IncrementReplyCounts bumps the reply counter on each referenced parent. A
// ref that no longer exists is skipped rather than failing the batch, since
// parents can be deleted between fetch and persist.
func (p *postgresCommentRepository) IncrementReplyCounts(ctx context.Context, refs []domain.CommentRef, seenAt time.Time) error {
	query := `
		UPDATE comments
		SET reply_count = reply_count + 1,
			updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND created_at = $2`

	for _, ref := range refs {
		if _, err := p.conn.Exec(ctx, query, ref.ID, ref.CreatedAt, seenAt); err != nil {
			return err
		}
	}
	return nil
}
