package repository

import (
	"context"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresRedditThreadRepository struct {
	conn Connection
}

func NewPostgresRedditThread(conn Connection) domain.RedditThreadRepository {
	return &postgresRedditThreadRepository{conn: conn}
}

func (p *postgresRedditThreadRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.RedditThread, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rts []domain.RedditThread
	for rows.Next() {
		var rt domain.RedditThread
		if err := rows.Scan(
			&rt.ID,
			&rt.RedditID,
			&rt.Subreddit,
			&rt.Title,
			&rt.Author,
			&rt.Permalink,
			&rt.Score,
			&rt.NumComments,
			&rt.IsArchived,
			&rt.PostedAt,
			&rt.FirstSeenAt,
			&rt.LastSeenAt,
		); err != nil {
			return nil, err
		}
		rts = append(rts, rt)
	}
	return rts, rows.Err()
}

func (p *postgresRedditThreadRepository) GetByRedditID(ctx context.Context, redditID string) (domain.RedditThread, error) {
	query := `
		SELECT id, reddit_id, subreddit, title, author, permalink, score, num_comments, is_archived, posted_at, first_seen_at, last_seen_at
		FROM reddit_threads
		WHERE reddit_id = $1`

	rts, err := p.fetch(ctx, query, redditID)

	if err != nil {
		return domain.RedditThread{}, err
	}
	if len(rts) == 0 {
		return domain.RedditThread{}, domain.ErrNotFound
	}
	return rts[0], nil
}

func (p *postgresRedditThreadRepository) CreateOrUpdate(ctx context.Context, rt *domain.RedditThread) error {
	query := `
		INSERT INTO reddit_threads
			(reddit_id, subreddit, title, author, permalink, score, num_comments, is_archived, posted_at, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (reddit_id) DO UPDATE
		SET title = $3,
			score = $6,
			num_comments = $7,
			is_archived = $8,
			last_seen_at = $10
		RETURNING id, first_seen_at, last_seen_at`

	return p.conn.QueryRow(
		ctx,
		query,
		rt.RedditID,
		rt.Subreddit,
		rt.Title,
		rt.Author,
		rt.Permalink,
		rt.Score,
		rt.NumComments,
		rt.IsArchived,
		rt.PostedAt,
		rt.LastSeenAt,
	).Scan(&rt.ID, &rt.FirstSeenAt, &rt.LastSeenAt)
}
