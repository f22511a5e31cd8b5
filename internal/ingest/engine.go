package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/reddit"
)

const deletedAuthor = "[deleted]"

// Source is the slice of the Reddit client the engine consumes.
type Source interface {
	GetSubmission(ctx context.Context, id string, opts ...reddit.RequestOption) (*reddit.Submission, error)
	FetchSubmissionRaw(ctx context.Context, id string, opts ...reddit.RequestOption) ([]byte, error)
	FetchComments(ctx context.Context, id string, opts ...reddit.RequestOption) ([]*reddit.CommentPayload, error)
}

// Archiver stores raw payloads. A nil archiver disables archival.
type Archiver interface {
	ArchiveSubmission(ctx context.Context, subreddit, redditID string, payload []byte, at time.Time) (string, error)
}

// Engine turns upstream submissions into analytic rows. Full ingests archive
// the raw payload and reconcile the whole tree; polls only take the delta
// past the newest comment already seen.
type Engine struct {
	logger *zap.Logger
	statsd statsd.ClientInterface

	reddit  Source
	archive Archiver

	threadRepo       domain.ThreadRepository
	redditThreadRepo domain.RedditThreadRepository
	commentRepo      domain.CommentRepository

	salt        string
	loc         *time.Location
	autoArchive bool
	archiveIdle time.Duration
}

func NewEngine(
	logger *zap.Logger,
	statsd statsd.ClientInterface,
	source Source,
	archiver Archiver,
	threadRepo domain.ThreadRepository,
	redditThreadRepo domain.RedditThreadRepository,
	commentRepo domain.CommentRepository,
	cfg config.Settings,
) *Engine {
	return &Engine{
		logger:           logger,
		statsd:           statsd,
		reddit:           source,
		archive:          archiver,
		threadRepo:       threadRepo,
		redditThreadRepo: redditThreadRepo,
		commentRepo:      commentRepo,
		salt:             cfg.AuthorHashSalt,
		loc:              cfg.Timezone,
		autoArchive:      cfg.AutoArchive,
		archiveIdle:      cfg.ArchiveIdle(),
	}
}

// IngestResult reports one full ingest run. CommentIDs holds the rows that
// need (re)classification: fresh inserts plus existing rows whose body moved.
type IngestResult struct {
	ThreadID   int64
	Status     domain.ThreadStatus
	Inserted   int
	Updated    int
	Skipped    int
	CommentIDs []int64

	ShouldSchedulePoll bool
	PollInterval       time.Duration
}

// PollResult reports one incremental poll.
type PollResult struct {
	ThreadID   int64
	Status     domain.ThreadStatus
	Inserted   int
	Updated    int
	Skipped    int
	CommentIDs []int64

	ShouldContinue bool
	PollInterval   time.Duration
}

// IngestThread fetches a submission with its full comment tree, archives the
// raw payload, and upserts the snapshot, analytic, and comment rows.
func (e *Engine) IngestThread(ctx context.Context, redditID, subreddit string) (*IngestResult, error) {
	now := time.Now().UTC()

	submission, err := e.reddit.GetSubmission(ctx, redditID)
	if err != nil {
		return nil, fmt.Errorf("could not fetch submission %s: %w", redditID, err)
	}

	if submission.Subreddit != "" {
		subreddit = submission.Subreddit
	}

	e.archiveRaw(ctx, subreddit, redditID, now)

	redditThread := &domain.RedditThread{
		RedditID:    submission.ID,
		Subreddit:   subreddit,
		Title:       submission.Title,
		Author:      submission.Author,
		Permalink:   submission.Permalink,
		Score:       submission.Score,
		NumComments: submission.NumComments,
		IsArchived:  submission.Archived,
		PostedAt:    epochTime(submission.CreatedAt),
		LastSeenAt:  now,
	}
	if err := e.redditThreadRepo.CreateOrUpdate(ctx, redditThread); err != nil {
		return nil, fmt.Errorf("could not upsert reddit thread %s: %w", redditID, err)
	}

	thread, err := e.upsertThread(ctx, submission, subreddit)
	if err != nil {
		return nil, err
	}

	payloads, err := e.reddit.FetchComments(ctx, redditID)
	if err != nil {
		return nil, fmt.Errorf("could not fetch comments for %s: %w", redditID, err)
	}

	stats, err := e.persistComments(ctx, &thread, payloads)
	if err != nil {
		return nil, err
	}

	count, err := e.commentRepo.CountByThread(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	thread.TotalComments = max(submission.NumComments, count)
	thread.LastPolledAt = now
	if stats.latestAt.After(thread.LatestCommentAt) {
		thread.LatestCommentAt = stats.latestAt
	}

	e.applyArchivePolicy(&thread, submission.Archived, now)

	if err := e.threadRepo.Update(ctx, &thread); err != nil {
		return nil, fmt.Errorf("could not update thread %d: %w", thread.ID, err)
	}

	e.countComments("full", stats)
	e.logger.Info("ingested thread",
		zap.Int64("thread#id", thread.ID),
		zap.String("thread#reddit_id", thread.RedditID),
		zap.String("thread#status", thread.Status.String()),
		zap.Int("inserted", stats.inserted),
		zap.Int("updated", stats.updated),
		zap.Int("skipped", stats.skipped),
	)

	return &IngestResult{
		ThreadID:           thread.ID,
		Status:             thread.Status,
		Inserted:           stats.inserted,
		Updated:            stats.updated,
		Skipped:            stats.skipped,
		CommentIDs:         stats.commentIDs,
		ShouldSchedulePoll: thread.Pollable(),
		PollInterval:       thread.PollInterval(),
	}, nil
}

// PollThread persists comments newer than the last one seen on the thread.
func (e *Engine) PollThread(ctx context.Context, threadID int64) (*PollResult, error) {
	now := time.Now().UTC()

	thread, err := e.threadRepo.GetByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("could not load thread %d: %w", threadID, err)
	}

	if !thread.Pollable() {
		return &PollResult{
			ThreadID:       thread.ID,
			Status:         thread.Status,
			ShouldContinue: false,
			PollInterval:   thread.PollInterval(),
		}, nil
	}

	lastSeen := thread.LatestCommentAt
	if lastSeen.IsZero() {
		lastSeen = thread.CreatedAt
	}

	payloads, err := e.reddit.FetchComments(ctx, thread.RedditID)
	if err != nil {
		return nil, fmt.Errorf("could not fetch comments for %s: %w", thread.RedditID, err)
	}

	fresh := make([]*reddit.CommentPayload, 0, len(payloads))
	for _, payload := range payloads {
		if epochTime(payload.CreatedAt).After(lastSeen) {
			fresh = append(fresh, payload)
		}
	}

	stats, err := e.persistComments(ctx, &thread, fresh)
	if err != nil {
		return nil, err
	}

	thread.TotalComments += int64(stats.inserted)
	thread.LastPolledAt = now
	if stats.latestAt.After(thread.LatestCommentAt) {
		thread.LatestCommentAt = stats.latestAt
	}

	e.applyArchivePolicy(&thread, false, now)

	if err := e.threadRepo.Update(ctx, &thread); err != nil {
		return nil, fmt.Errorf("could not update thread %d: %w", thread.ID, err)
	}

	e.countComments("poll", stats)
	e.logger.Debug("polled thread",
		zap.Int64("thread#id", thread.ID),
		zap.String("thread#reddit_id", thread.RedditID),
		zap.Int("inserted", stats.inserted),
		zap.Int("updated", stats.updated),
	)

	return &PollResult{
		ThreadID:       thread.ID,
		Status:         thread.Status,
		Inserted:       stats.inserted,
		Updated:        stats.updated,
		Skipped:        stats.skipped,
		CommentIDs:     stats.commentIDs,
		ShouldContinue: thread.Pollable(),
		PollInterval:   thread.PollInterval(),
	}, nil
}

// archiveRaw snapshots the unparsed payload. Failures are logged and counted,
// never fatal to the ingest.
func (e *Engine) archiveRaw(ctx context.Context, subreddit, redditID string, now time.Time) {
	if e.archive == nil {
		return
	}

	raw, err := e.reddit.FetchSubmissionRaw(ctx, redditID)
	if err == nil {
		_, err = e.archive.ArchiveSubmission(ctx, subreddit, redditID, raw, now)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		e.logger.Warn("could not archive submission payload",
			zap.Error(err),
			zap.String("thread#reddit_id", redditID),
		)
	}
	_ = e.statsd.Incr("socializer.ingest.archive", []string{"outcome:" + outcome}, 1)
}

func (e *Engine) upsertThread(ctx context.Context, submission *reddit.Submission, subreddit string) (domain.Thread, error) {
	thread, err := e.threadRepo.GetByRedditID(ctx, submission.ID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Thread{}, err
	}

	thread = domain.Thread{
		RedditID:  submission.ID,
		Subreddit: subreddit,
		Title:     submission.Title,
		URL:       "https://www.reddit.com" + submission.Permalink,
	}

	if err := e.threadRepo.Create(ctx, &thread); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.threadRepo.GetByRedditID(ctx, submission.ID)
		}
		return domain.Thread{}, fmt.Errorf("could not create thread %s: %w", submission.ID, err)
	}

	return thread, nil
}

type persistStats struct {
	inserted   int
	updated    int
	skipped    int
	commentIDs []int64
	latestAt   time.Time
}

// persistComments runs the idempotent comment protocol: new payloads insert,
// known payloads update when a tracked field moved, and a body change flags
// the row for reclassification. Ancestor reply counts reconcile after the
// flush so chains of fresh replies resolve in one pass.
func (e *Engine) persistComments(ctx context.Context, thread *domain.Thread, payloads []*reddit.CommentPayload) (persistStats, error) {
	var stats persistStats
	if len(payloads) == 0 {
		return stats, nil
	}

	redditIDs := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		redditIDs = append(redditIDs, payload.ID)
	}

	known, err := e.commentRepo.ListRedditIDs(ctx, thread.ID, redditIDs)
	if err != nil {
		return stats, err
	}

	var fresh []domain.Comment

	for _, payload := range payloads {
		createdAt := epochTime(payload.CreatedAt)
		if createdAt.After(stats.latestAt) {
			stats.latestAt = createdAt
		}

		if existing, ok := known[payload.ID]; ok {
			updated, reclassify, err := e.reconcile(ctx, thread, &existing, payload)
			if err != nil {
				return stats, err
			}

			known[payload.ID] = existing
			if reclassify {
				stats.commentIDs = append(stats.commentIDs, existing.ID)
			}
			if updated {
				stats.updated++
			} else {
				stats.skipped++
			}
			continue
		}

		comment := domain.Comment{
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
			ThreadID:       thread.ID,
			RedditID:       payload.ID,
			ParentRedditID: parentRedditID(payload.ParentID),
			AuthorHash:     e.hashAuthor(payload.Author),
			Body:           payload.Body,
			Score:          payload.Score,
			TimeWindow:     domain.TimeWindowFor(createdAt, thread.AirsAt, e.loc),
		}

		if err := e.commentRepo.Create(ctx, &comment); err != nil {
			// A concurrent ingest can win the insert race; treat theirs as ours.
			if errors.Is(err, domain.ErrConflict) {
				stats.skipped++
				continue
			}
			return stats, fmt.Errorf("could not create comment %s: %w", payload.ID, err)
		}

		known[payload.ID] = comment
		fresh = append(fresh, comment)
		stats.inserted++
		stats.commentIDs = append(stats.commentIDs, comment.ID)
	}

	if err := e.reconcileAncestors(ctx, thread.ID, fresh, known); err != nil {
		return stats, err
	}

	return stats, nil
}

// reconcile compares one payload against its stored row, persisting when a
// tracked field changed. The second return flags a body edit, which means
// the stored sentiment no longer describes the text. Windows recompute
// against the current air time, so setting it late restamps on re-ingest.
func (e *Engine) reconcile(ctx context.Context, thread *domain.Thread, comment *domain.Comment, payload *reddit.CommentPayload) (bool, bool, error) {
	authorHash := e.hashAuthor(payload.Author)
	window := domain.TimeWindowFor(comment.CreatedAt, thread.AirsAt, e.loc)

	bodyChanged := comment.Body != payload.Body
	changed := bodyChanged ||
		comment.Score != payload.Score ||
		comment.AuthorHash != authorHash ||
		comment.TimeWindow != window ||
		comment.ParentRedditID != parentRedditID(payload.ParentID)

	if !changed {
		return false, false, nil
	}

	comment.Body = payload.Body
	comment.Score = payload.Score
	comment.AuthorHash = authorHash
	comment.TimeWindow = window
	comment.UpdatedAt = time.Now().UTC()

	if err := e.commentRepo.Update(ctx, comment); err != nil {
		return false, false, err
	}

	return true, bodyChanged, nil
}

// reconcileAncestors bumps reply counts up each new comment's parent chain.
// Ancestors outside the fetched page load lazily and join the lookup map.
func (e *Engine) reconcileAncestors(ctx context.Context, threadID int64, fresh []domain.Comment, known map[string]domain.Comment) error {
	for _, comment := range fresh {
		var refs []domain.CommentRef

		seen := map[string]bool{comment.RedditID: true}
		parentID := comment.ParentRedditID

		for parentID != "" && !seen[parentID] {
			seen[parentID] = true

			parent, ok := known[parentID]
			if !ok {
				var err error
				parent, err = e.commentRepo.GetByRedditID(ctx, threadID, parentID)
				if errors.Is(err, domain.ErrNotFound) {
					break
				}
				if err != nil {
					return err
				}
				known[parentID] = parent
			}

			refs = append(refs, domain.CommentRef{ID: parent.ID, CreatedAt: parent.CreatedAt})
			parentID = parent.ParentRedditID
		}

		if len(refs) == 0 {
			continue
		}

		if err := e.commentRepo.IncrementReplyCounts(ctx, refs, comment.CreatedAt); err != nil {
			return err
		}
	}

	return nil
}

// applyArchivePolicy settles the thread status: the upstream archived flag
// wins, then the idle cutoff, and anything not terminal goes (back) to live.
func (e *Engine) applyArchivePolicy(thread *domain.Thread, upstreamArchived bool, now time.Time) {
	switch {
	case upstreamArchived:
		thread.Status = domain.ThreadStatusArchived
	case e.autoArchive && !thread.LatestCommentAt.IsZero() && now.Sub(thread.LatestCommentAt) >= e.archiveIdle:
		thread.Status = domain.ThreadStatusArchived
	case thread.Status != domain.ThreadStatusArchived && thread.Status != domain.ThreadStatusCompleted:
		thread.Status = domain.ThreadStatusLive
	}
}

func (e *Engine) countComments(mode string, stats persistStats) {
	tags := []string{"mode:" + mode}
	_ = e.statsd.Count("socializer.ingest.comments", int64(stats.inserted), append(tags, "outcome:inserted"), 1)
	_ = e.statsd.Count("socializer.ingest.comments", int64(stats.updated), append(tags, "outcome:updated"), 1)
	_ = e.statsd.Count("socializer.ingest.comments", int64(stats.skipped), append(tags, "outcome:skipped"), 1)
}

// hashAuthor pseudonymizes usernames. Deleted authors and salt-less deploys
// store the empty hash.
func (e *Engine) hashAuthor(author string) string {
	if e.salt == "" || author == "" || author == deletedAuthor {
		return ""
	}

	sum := sha256.Sum256([]byte(e.salt + strings.ToLower(author)))

	return hex.EncodeToString(sum[:])
}

// parentRedditID normalizes the upstream parent pointer: comment parents keep
// their bare id, submission roots store empty.
func parentRedditID(parent string) string {
	if kind, id := reddit.SplitID(parent); kind == "t1" {
		return id
	}

	return ""
}

func epochTime(epoch float64) time.Time {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))

	return time.Unix(sec, nsec).UTC()
}
