package reddit

import (
	"errors"
	"fmt"
	"time"
)

type ServerError struct {
	StatusCode int
}

func (se ServerError) Error() string {
	return fmt.Sprintf("error from reddit: %d", se.StatusCode)
}

// RateLimitError carries the upstream cool-off so callers can reschedule
// instead of hammering.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (rle RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by reddit, retry after %s", rle.RetryAfter)
}

var (
	// ErrAuthFailed .
	ErrAuthFailed = errors.New("reddit credentials rejected")
	// ErrTimeout .
	ErrTimeout = errors.New("timeout")
	// ErrSubmissionNotFound .
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrInvalidThreadURL .
	ErrInvalidThreadURL = errors.New("not a reddit thread url")
)
