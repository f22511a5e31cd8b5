package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/reddit"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	// reclassifyBatchSize matches the classifier's batch appetite so a
	// reanalyze sweep fans out the same way fresh ingestion does.
	reclassifyBatchSize = 50

	// bulkThreadLimit caps one bulk registration call.
	bulkThreadLimit = 50
)

type threadItem struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RedditID  string `json:"reddit_id"`
	Subreddit string `json:"subreddit"`
	Title     string `json:"title"`
	URL       string `json:"url"`

	Synopsis string     `json:"synopsis,omitempty"`
	AirsAt   *time.Time `json:"airs_at,omitempty"`

	Status              string     `json:"status"`
	TotalComments       int64      `json:"total_comments"`
	LastPolledAt        *time.Time `json:"last_polled_at,omitempty"`
	LatestCommentAt     *time.Time `json:"latest_comment_at,omitempty"`
	PollIntervalSeconds int64      `json:"poll_interval_seconds"`
}

func newThreadItem(t domain.Thread) threadItem {
	return threadItem{
		ID:        t.ID,
		CreatedAt: t.CreatedAt,

		RedditID:  t.RedditID,
		Subreddit: t.Subreddit,
		Title:     t.Title,
		URL:       t.URL,

		Synopsis: t.Synopsis,
		AirsAt:   optionalTime(t.AirsAt),

		Status:              t.Status.String(),
		TotalComments:       t.TotalComments,
		LastPolledAt:        optionalTime(t.LastPolledAt),
		LatestCommentAt:     optionalTime(t.LatestCommentAt),
		PollIntervalSeconds: t.PollIntervalSeconds,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func queryInt(r *http.Request, name string, fallback, ceiling int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if ceiling > 0 && n > ceiling {
		return ceiling
	}

	return n
}

type createThreadRequest struct {
	URL       string `json:"url"`
	RedditID  string `json:"reddit_id"`
	Subreddit string `json:"subreddit"`

	Title               string    `json:"title"`
	Synopsis            string    `json:"synopsis"`
	AirsAt              time.Time `json:"airs_at"`
	PollIntervalSeconds int64     `json:"poll_interval_seconds"`

	Enqueue *bool `json:"enqueue"`
}

func (a *api) createThreadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ctr createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&ctr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	redditID, subreddit := ctr.RedditID, ctr.Subreddit
	if ctr.URL != "" {
		var err error
		subreddit, redditID, err = reddit.ParseThreadURL(ctr.URL)
		if err != nil {
			a.errorResponse(w, r, 422, err.Error())
			return
		}
	}
	if redditID == "" {
		a.errorResponse(w, r, 422, "need a thread url or a reddit id")
		return
	}

	if _, err := a.threadRepo.GetByRedditID(ctx, redditID); err == nil {
		a.errorResponse(w, r, 409, "thread already registered")
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	thread := domain.Thread{
		RedditID:  redditID,
		Subreddit: subreddit,
		Title:     ctr.Title,
		URL:       ctr.URL,

		Synopsis: ctr.Synopsis,
		AirsAt:   ctr.AirsAt,

		Status:              domain.ThreadStatusScheduled,
		PollIntervalSeconds: ctr.PollIntervalSeconds,
	}

	// Short links and bare ids carry no subreddit, and most submissions
	// arrive without a title. Resolve those against the live submission.
	if thread.Title == "" || thread.Subreddit == "" {
		submission, err := a.reddit.GetSubmission(ctx, redditID)
		if err != nil {
			a.errorResponse(w, r, 422, fmt.Sprintf("could not resolve submission %s: %s", redditID, err))
			return
		}

		if thread.Title == "" {
			thread.Title = submission.Title
		}
		if submission.Subreddit != "" {
			thread.Subreddit = submission.Subreddit
		}
		if thread.URL == "" {
			thread.URL = "https://www.reddit.com" + submission.Permalink
		}
	}
	if thread.URL == "" {
		thread.URL = fmt.Sprintf("https://www.reddit.com/r/%s/comments/%s/", thread.Subreddit, thread.RedditID)
	}

	if err := thread.Validate(); err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	if err := a.threadRepo.Create(ctx, &thread); err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if ctr.Enqueue == nil || *ctr.Enqueue {
		args := queue.IngestThreadArgs{RedditID: thread.RedditID, Subreddit: thread.Subreddit}
		if _, err := a.publisher.Publish(ctx, queue.TaskIngestThread, args); err != nil {
			a.logger.Error("could not enqueue ingestion",
				zap.Error(err),
				zap.Int64("thread#id", thread.ID),
			)
			a.errorResponse(w, r, 500, "thread registered but ingestion could not be enqueued")
			return
		}
	}

	a.logger.Info("registered thread",
		zap.Int64("thread#id", thread.ID),
		zap.String("thread#reddit_id", thread.RedditID),
		zap.String("auth#subject", requestSubject(ctx)),
	)

	a.respondJSON(w, http.StatusCreated, newThreadItem(thread))
}

type bulkThreadsRequest struct {
	URLs []string `json:"urls"`
}

type bulkThreadItem struct {
	URL      string `json:"url"`
	RedditID string `json:"reddit_id,omitempty"`
	ThreadID int64  `json:"thread_id,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// bulkCreateThreadsHandler enqueues ingestion for a pasted list of URLs
// without touching reddit. The ingest task creates each thread row with the
// live title once it runs.
func (a *api) bulkCreateThreadsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var btr bulkThreadsRequest
	if err := json.NewDecoder(r.Body).Decode(&btr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	if len(btr.URLs) == 0 {
		a.errorResponse(w, r, 422, "no urls to register")
		return
	}
	if len(btr.URLs) > bulkThreadLimit {
		a.errorResponse(w, r, 422, fmt.Sprintf("too many urls, limit is %d", bulkThreadLimit))
		return
	}

	items := make([]bulkThreadItem, 0, len(btr.URLs))
	for _, raw := range btr.URLs {
		item := bulkThreadItem{URL: raw}

		subreddit, redditID, err := reddit.ParseThreadURL(raw)
		if err != nil {
			item.Status = "invalid"
			item.Error = err.Error()
			items = append(items, item)
			continue
		}
		item.RedditID = redditID

		if thread, err := a.threadRepo.GetByRedditID(ctx, redditID); err == nil {
			item.Status = "exists"
			item.ThreadID = thread.ID
			items = append(items, item)
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			item.Status = "error"
			item.Error = err.Error()
			items = append(items, item)
			continue
		}

		args := queue.IngestThreadArgs{RedditID: redditID, Subreddit: subreddit}
		if _, err := a.publisher.Publish(ctx, queue.TaskIngestThread, args); err != nil {
			item.Status = "error"
			item.Error = err.Error()
			items = append(items, item)
			continue
		}

		item.Status = "queued"
		items = append(items, item)
	}

	a.respondJSON(w, http.StatusAccepted, items)
}

func (a *api) listThreadsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)

	threads, err := a.threadRepo.List(ctx, limit, offset)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	items := make([]threadItem, 0, len(threads))
	for _, thread := range threads {
		items = append(items, newThreadItem(thread))
	}

	a.respondJSON(w, http.StatusOK, items)
}

func (a *api) getThreadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	a.respondJSON(w, http.StatusOK, newThreadItem(thread))
}

type submissionItem struct {
	RedditID    string    `json:"reddit_id"`
	Subreddit   string    `json:"subreddit"`
	Title       string    `json:"title"`
	Score       int64     `json:"score"`
	NumComments int64     `json:"num_comments"`
	Archived    bool      `json:"archived"`
	PostedAt    time.Time `json:"posted_at"`
}

type threadLookup struct {
	Registered bool            `json:"registered"`
	Thread     *threadItem     `json:"thread,omitempty"`
	Submission *submissionItem `json:"submission,omitempty"`
}

// lookupThreadHandler resolves a pasted URL to the registered thread, or to
// a live preview of the submission when nothing is registered yet.
func (a *api) lookupThreadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.Query().Get("url")
	if raw == "" {
		a.errorResponse(w, r, 400, "missing url parameter")
		return
	}

	_, redditID, err := reddit.ParseThreadURL(raw)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByRedditID(ctx, redditID)
	if err == nil {
		item := newThreadItem(thread)
		a.respondJSON(w, http.StatusOK, threadLookup{Registered: true, Thread: &item})
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	submission, err := a.reddit.GetSubmission(ctx, redditID)
	if err != nil {
		if errors.Is(err, reddit.ErrSubmissionNotFound) {
			a.errorResponse(w, r, 404, err.Error())
			return
		}

		a.errorResponse(w, r, 422, err.Error())
		return
	}

	a.respondJSON(w, http.StatusOK, threadLookup{
		Registered: false,
		Submission: &submissionItem{
			RedditID:    submission.ID,
			Subreddit:   submission.Subreddit,
			Title:       submission.Title,
			Score:       submission.Score,
			NumComments: submission.NumComments,
			Archived:    submission.Archived,
			PostedAt:    time.Unix(int64(submission.CreatedAt), 0).UTC(),
		},
	})
}

type updateThreadRequest struct {
	Title               *string    `json:"title"`
	Synopsis            *string    `json:"synopsis"`
	AirsAt              *time.Time `json:"airs_at"`
	Status              *string    `json:"status"`
	PollIntervalSeconds *int64     `json:"poll_interval_seconds"`
}

func (a *api) updateThreadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	var utr updateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&utr); err != nil {
		a.errorResponse(w, r, 400, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if utr.Title != nil {
		thread.Title = *utr.Title
	}
	if utr.Synopsis != nil {
		thread.Synopsis = *utr.Synopsis
	}
	if utr.AirsAt != nil {
		thread.AirsAt = *utr.AirsAt
	}
	if utr.Status != nil {
		status := domain.ThreadStatusFromString(*utr.Status)
		if status.String() != strings.ToLower(*utr.Status) {
			a.errorResponse(w, r, 422, fmt.Sprintf("unknown status %q", *utr.Status))
			return
		}
		thread.Status = status
	}
	if utr.PollIntervalSeconds != nil {
		thread.PollIntervalSeconds = *utr.PollIntervalSeconds
	}

	if err := thread.Validate(); err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	if err := a.threadRepo.Update(ctx, &thread); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	a.respondJSON(w, http.StatusOK, newThreadItem(thread))
}

func (a *api) deleteThreadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	if err := a.threadRepo.Delete(ctx, thread.ID); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	a.logger.Info("deleted thread",
		zap.Int64("thread#id", thread.ID),
		zap.String("thread#reddit_id", thread.RedditID),
		zap.String("auth#subject", requestSubject(ctx)),
	)

	w.WriteHeader(http.StatusNoContent)
}

type reanalyzeResponse struct {
	Comments int `json:"comments"`
	Batches  int `json:"batches"`
}

// reanalyzeThreadHandler re-enqueues every comment on the thread for
// classification, which cascades into fresh linking and aggregates.
func (a *api) reanalyzeThreadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	thread, err := a.threadRepo.GetByID(ctx, id)
	if err != nil {
		a.repositoryError(w, r, err)
		return
	}

	ids, err := a.commentRepo.ListIDsByThread(ctx, thread.ID)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	batches := 0
	for start := 0; start < len(ids); start += reclassifyBatchSize {
		end := min(start+reclassifyBatchSize, len(ids))
		args := queue.ClassifyCommentsArgs{CommentIDs: ids[start:end]}
		if _, err := a.publisher.Publish(ctx, queue.TaskClassifyComments, args); err != nil {
			a.errorResponse(w, r, 500, err.Error())
			return
		}
		batches++
	}

	a.logger.Info("enqueued reclassification",
		zap.Int64("thread#id", thread.ID),
		zap.Int("thread#comments", len(ids)),
		zap.Int("batches", batches),
	)

	a.respondJSON(w, http.StatusAccepted, reanalyzeResponse{Comments: len(ids), Batches: batches})
}
