package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type commentSentiment struct {
	Label              string          `json:"label"`
	Score              float64         `json:"score"`
	IsSarcastic        bool            `json:"is_sarcastic"`
	SarcasmConfidence  float64         `json:"sarcasm_confidence"`
	IsToxic            bool            `json:"is_toxic"`
	ToxicityConfidence float64         `json:"toxicity_confidence"`
	ModelVersion       string          `json:"model_version"`
	Breakdown          json.RawMessage `json:"breakdown,omitempty"`
}

type commentItem struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RedditID       string `json:"reddit_id"`
	ParentRedditID string `json:"parent_reddit_id,omitempty"`
	AuthorHash     string `json:"author_hash"`
	Body           string `json:"body"`
	Score          int64  `json:"score"`
	ReplyCount     int64  `json:"reply_count"`
	TimeWindow     string `json:"time_window"`

	Sentiment *commentSentiment `json:"sentiment,omitempty"`
}

func newCommentItem(c domain.Comment) commentItem {
	item := commentItem{
		ID:        c.ID,
		CreatedAt: c.CreatedAt,

		RedditID:       c.RedditID,
		ParentRedditID: c.ParentRedditID,
		AuthorHash:     c.AuthorHash,
		Body:           c.Body,
		Score:          c.Score,
		ReplyCount:     c.ReplyCount,
		TimeWindow:     string(c.TimeWindow),
	}

	if c.Classified() {
		item.Sentiment = &commentSentiment{
			Label:              string(c.SentimentLabel),
			Score:              c.SentimentScore,
			IsSarcastic:        c.IsSarcastic,
			SarcasmConfidence:  c.SarcasmConfidence,
			IsToxic:            c.IsToxic,
			ToxicityConfidence: c.ToxicityConfidence,
			ModelVersion:       c.ModelVersion,
			Breakdown:          json.RawMessage(c.SentimentBreakdown),
		}
	}

	return item
}

func parseCommentSort(raw string) (domain.CommentSort, error) {
	if raw == "" {
		return domain.SortNew, nil
	}

	sort := domain.CommentSort(raw)
	switch sort {
	case domain.SortNew, domain.SortOld, domain.SortMostReplies, domain.SortMostUpvotes,
		domain.SortSentimentAsc, domain.SortSentimentDesc:
		return sort, nil
	}

	return "", fmt.Errorf("unknown sort %q", raw)
}

func (a *api) listCommentsHandler(w http.ResponseWriter, r *http.Request) {
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

	sort, err := parseCommentSort(r.URL.Query().Get("sort"))
	if err != nil {
		a.errorResponse(w, r, 422, err.Error())
		return
	}

	opts := domain.CommentListOptions{
		Sort:   sort,
		Limit:  queryInt(r, "limit", defaultPageSize, maxPageSize),
		Offset: queryInt(r, "offset", 0, 0),
	}

	comments, err := a.commentRepo.ListByThread(ctx, thread.ID, opts)
	if err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}

	items := make([]commentItem, 0, len(comments))
	for _, comment := range comments {
		items = append(items, newCommentItem(comment))
	}

	a.respondJSON(w, http.StatusOK, items)
}
