package domain

import (
	"context"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// DefaultPollInterval is used when a thread does not carry its own interval.
	DefaultPollInterval = 60 * time.Second
	// MinPollInterval is the floor applied at use, whatever the stored value says.
	MinPollInterval = 30 * time.Second
)

type ThreadStatus int64

const (
	ThreadStatusScheduled ThreadStatus = iota
	ThreadStatusLive
	ThreadStatusCompleted
	ThreadStatusArchived
)

func (ts ThreadStatus) String() string {
	switch ts {
	case ThreadStatusScheduled:
		return "scheduled"
	case ThreadStatusLive:
		return "live"
	case ThreadStatusCompleted:
		return "completed"
	case ThreadStatusArchived:
		return "archived"
	}

	return "unknown"
}

func ThreadStatusFromString(s string) ThreadStatus {
	switch strings.ToLower(s) {
	case "live":
		return ThreadStatusLive
	case "completed":
		return ThreadStatusCompleted
	case "archived":
		return ThreadStatusArchived
	}

	return ThreadStatusScheduled
}

// Thread is the analytic row for one episode discussion. Polling stops for
// good once the status reaches completed or archived.
type Thread struct {
	ID        int64
	CreatedAt time.Time

	// Reddit information
	RedditID  string
	Subreddit string
	Title     string
	URL       string

	// Episode information
	Synopsis string
	AirsAt   time.Time

	Status              ThreadStatus
	TotalComments       int64
	LastPolledAt        time.Time
	LatestCommentAt     time.Time
	PollIntervalSeconds int64
}

// PollInterval clamps the configured interval to the floor, falling back to
// the default when unset.
func (t *Thread) PollInterval() time.Duration {
	if t.PollIntervalSeconds <= 0 {
		return DefaultPollInterval
	}

	interval := time.Duration(t.PollIntervalSeconds) * time.Second
	if interval < MinPollInterval {
		return MinPollInterval
	}

	return interval
}

// Pollable reports whether new poll work may be scheduled for the thread.
func (t *Thread) Pollable() bool {
	return t.Status == ThreadStatusScheduled || t.Status == ThreadStatusLive
}

func (t *Thread) NormalizedSubreddit() string {
	return strings.ToLower(t.Subreddit)
}

func (t *Thread) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.RedditID, validation.Required, validation.Match(regexp.MustCompile(`^[a-z0-9]{4,13}$`))),
		validation.Field(&t.Subreddit, validation.Required, validation.Length(2, 21), validation.Match(regexp.MustCompile(`^[a-zA-Z0-9]\w{1,20}$`))),
		validation.Field(&t.Title, validation.Required, validation.Length(1, 300)),
		validation.Field(&t.PollIntervalSeconds, validation.Min(int64(0))),
	)
}

type ThreadRepository interface {
	GetByID(ctx context.Context, id int64) (Thread, error)
	GetByRedditID(ctx context.Context, redditID string) (Thread, error)
	List(ctx context.Context, limit, offset int) ([]Thread, error)
	ListPollable(ctx context.Context, notPolledSince time.Time, limit int) ([]Thread, error)

	Create(ctx context.Context, thread *Thread) error
	Update(ctx context.Context, thread *Thread) error
	Delete(ctx context.Context, id int64) error
}
