package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

func TestThreadPollInterval(t *testing.T) {
	t.Parallel()

	tt := map[string]struct {
		seconds int64

		want time.Duration
	}{
		"unset uses default":   {0, 60 * time.Second},
		"below floor clamps":   {10, 30 * time.Second},
		"floor passes through": {30, 30 * time.Second},
		"normal interval":      {120, 120 * time.Second},
	}

	for scenario, tc := range tt {
		tc := tc
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			thread := &domain.Thread{PollIntervalSeconds: tc.seconds}

			assert.Equal(t, tc.want, thread.PollInterval())
		})
	}
}

func TestThreadPollable(t *testing.T) {
	t.Parallel()

	tt := map[string]struct {
		status domain.ThreadStatus

		want bool
	}{
		"scheduled": {domain.ThreadStatusScheduled, true},
		"live":      {domain.ThreadStatusLive, true},
		"completed": {domain.ThreadStatusCompleted, false},
		"archived":  {domain.ThreadStatusArchived, false},
	}

	for scenario, tc := range tt {
		tc := tc
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			thread := &domain.Thread{Status: tc.status}

			assert.Equal(t, tc.want, thread.Pollable())
		})
	}
}

func TestThreadValidate(t *testing.T) {
	t.Parallel()

	tt := map[string]struct {
		thread domain.Thread

		wantErr bool
	}{
		"valid":             {domain.Thread{RedditID: "1abc2d", Subreddit: "realhousewives", Title: "Episode 4 live discussion"}, false},
		"missing reddit id": {domain.Thread{Subreddit: "realhousewives", Title: "x"}, true},
		"uppercase id":      {domain.Thread{RedditID: "1ABC2D", Subreddit: "realhousewives", Title: "x"}, true},
		"empty title":       {domain.Thread{RedditID: "1abc2d", Subreddit: "realhousewives"}, true},
		"bad subreddit":     {domain.Thread{RedditID: "1abc2d", Subreddit: "-nope", Title: "x"}, true},
		"negative interval": {domain.Thread{RedditID: "1abc2d", Subreddit: "realhousewives", Title: "x", PollIntervalSeconds: -5}, true},
	}

	for scenario, tc := range tt {
		tc := tc
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			err := tc.thread.Validate()

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestThreadStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.ThreadStatus{
		domain.ThreadStatusScheduled,
		domain.ThreadStatusLive,
		domain.ThreadStatusCompleted,
		domain.ThreadStatusArchived,
	} {
		assert.Equal(t, status, domain.ThreadStatusFromString(status.String()))
	}
}
