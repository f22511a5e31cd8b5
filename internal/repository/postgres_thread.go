package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresThreadRepository struct {
	conn Connection
}

func NewPostgresThread(conn Connection) domain.ThreadRepository {
	return &postgresThreadRepository{conn: conn}
}

func (p *postgresThreadRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.Thread, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []domain.Thread
	for rows.Next() {
		var thread domain.Thread
		var airsAt, lastPolledAt, latestCommentAt *time.Time

		if err := rows.Scan(
			&thread.ID,
			&thread.CreatedAt,
			&thread.RedditID,
			&thread.Subreddit,
			&thread.Title,
			&thread.URL,
			&thread.Synopsis,
			&airsAt,
			&thread.Status,
			&thread.TotalComments,
			&lastPolledAt,
			&latestCommentAt,
			&thread.PollIntervalSeconds,
		); err != nil {
			return nil, err
		}

		thread.AirsAt = timeOrZero(airsAt)
		thread.LastPolledAt = timeOrZero(lastPolledAt)
		thread.LatestCommentAt = timeOrZero(latestCommentAt)

		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

const threadColumns = `id, created_at, reddit_id, subreddit, title, url, synopsis, airs_at, status, total_comments, last_polled_at, latest_comment_at, poll_interval_seconds`

func (p *postgresThreadRepository) GetByID(ctx context.Context, id int64) (domain.Thread, error) {
	query := fmt.Sprintf(`SELECT %s FROM threads WHERE id = $1`, threadColumns)

	threads, err := p.fetch(ctx, query, id)

	if err != nil {
		return domain.Thread{}, err
	}
	if len(threads) == 0 {
		return domain.Thread{}, domain.ErrNotFound
	}
	return threads[0], nil
}

func (p *postgresThreadRepository) GetByRedditID(ctx context.Context, redditID string) (domain.Thread, error) {
	query := fmt.Sprintf(`SELECT %s FROM threads WHERE reddit_id = $1`, threadColumns)

	threads, err := p.fetch(ctx, query, redditID)

	if err != nil {
		return domain.Thread{}, err
	}
	if len(threads) == 0 {
		return domain.Thread{}, domain.ErrNotFound
	}
	return threads[0], nil
}

func (p *postgresThreadRepository) List(ctx context.Context, limit, offset int) ([]domain.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM threads
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, threadColumns)

	return p.fetch(ctx, query, limit, offset)
}

func (p *postgresThreadRepository) ListPollable(ctx context.Context, notPolledSince time.Time, limit int) ([]domain.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM threads
		WHERE status IN ($1, $2)
			AND (last_polled_at IS NULL OR last_polled_at < $3)
		ORDER BY last_polled_at ASC NULLS FIRST
		LIMIT $4`, threadColumns)

	return p.fetch(ctx, query, domain.ThreadStatusScheduled, domain.ThreadStatusLive, notPolledSince, limit)
}

func (p *postgresThreadRepository) Create(ctx context.Context, thread *domain.Thread) error {
	if err := thread.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO threads
			(reddit_id, subreddit, title, url, synopsis, airs_at, status, total_comments, poll_interval_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := p.conn.QueryRow(
		ctx,
		query,
		thread.RedditID,
		thread.Subreddit,
		thread.Title,
		thread.URL,
		thread.Synopsis,
		nullableTime(thread.AirsAt),
		thread.Status,
		thread.TotalComments,
		thread.PollIntervalSeconds,
	).Scan(&thread.ID, &thread.CreatedAt)

	return conflictErr(err)
}

func (p *postgresThreadRepository) Update(ctx context.Context, thread *domain.Thread) error {
	query := `
		UPDATE threads
		SET subreddit = $2,
			title = $3,
			url = $4,
			synopsis = $5,
			airs_at = $6,
			status = $7,
			total_comments = $8,
			last_polled_at = $9,
			latest_comment_at = $10,
			poll_interval_seconds = $11
		WHERE id = $1`

	res, err := p.conn.Exec(
		ctx,
		query,
		thread.ID,
		thread.Subreddit,
		thread.Title,
		thread.URL,
		thread.Synopsis,
		nullableTime(thread.AirsAt),
		thread.Status,
		thread.TotalComments,
		nullableTime(thread.LastPolledAt),
		nullableTime(thread.LatestCommentAt),
		thread.PollIntervalSeconds,
	)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}

func (p *postgresThreadRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM threads WHERE id = $1`

	res, err := p.conn.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}
