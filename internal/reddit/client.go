package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/go-redis/redis/v8"
	"github.com/valyala/fastjson"

	"github.com/therealityreport/socializer-backend/internal/config"
)

const (
	// RequestRemainingBuffer backs off before the quota headers hit zero.
	RequestRemainingBuffer = 50

	RateLimitRemainingHeader = "X-Ratelimit-Remaining"
	RateLimitResetHeader     = "X-Ratelimit-Reset"
	RetryAfterHeader         = "Retry-After"

	maxRetries = 3

	tokenTTLBuffer = time.Minute

	morechildrenBatch = 100
)

// Limiter paces outbound calls. The client blocks on Acquire before every
// request and reports provider cool-offs through BlockFor.
type Limiter interface {
	Acquire(ctx context.Context) error
	BlockFor(ctx context.Context, d time.Duration) error
}

type ResponseHandler func(val *fastjson.Value) interface{}

type Client struct {
	id        string
	secret    string
	username  string
	password  string
	userAgent string

	client  *http.Client
	tracer  *httptrace.ClientTrace
	pool    *fastjson.ParserPool
	statsd  statsd.ClientInterface
	redis   *redis.Client
	limiter Limiter
	retry   bool
}

type ClientOption func(*Client)

// WithRetry disables the backoff loop when set to false; tests rely on this.
func WithRetry(retry bool) ClientOption {
	return func(c *Client) {
		c.retry = retry
	}
}

// WithClient swaps the underlying HTTP client.
func WithClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

type RateLimitingInfo struct {
	Remaining float64
	Reset     int
	Present   bool
}

func NewClient(cfg config.RedditSettings, statsd statsd.ClientInterface, redis *redis.Client, limiter Limiter, connLimit int, opts ...ClientOption) *Client {
	tracer := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				_ = statsd.Incr("reddit.api.connections.reused", []string{}, 0.1)
				if info.WasIdle {
					idleTime := float64(int64(info.IdleTime) / int64(time.Millisecond))
					_ = statsd.Histogram("reddit.api.connections.idle_time", idleTime, []string{}, 0.1)
				}
			} else {
				_ = statsd.Incr("reddit.api.connections.created", []string{}, 0.1)
			}
		},
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = connLimit / 4
	t.MaxConnsPerHost = connLimit
	t.MaxIdleConnsPerHost = connLimit / 4
	t.IdleConnTimeout = 60 * time.Second
	t.ResponseHeaderTimeout = 5 * time.Second

	client := &Client{
		id:        cfg.ClientID,
		secret:    cfg.ClientSecret,
		username:  cfg.Username,
		password:  cfg.Password,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Transport: t},
		tracer:    tracer,
		pool:      &fastjson.ParserPool{},
		statsd:    statsd,
		redis:     redis,
		limiter:   limiter,
		retry:     true,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (rc *Client) doRequest(ctx context.Context, r *Request) ([]byte, *RateLimitingInfo, error) {
	if r.userAgent == "" {
		r.userAgent = rc.userAgent
	}

	req, err := r.HTTPRequest(ctx)
	if err != nil {
		return nil, nil, err
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), rc.tracer))

	start := time.Now()

	resp, err := rc.client.Do(req)

	_ = rc.statsd.Incr("reddit.api.calls", r.tags, 0.1)
	_ = rc.statsd.Histogram("reddit.api.latency", float64(time.Since(start).Milliseconds()), r.tags, 0.1)

	if err != nil {
		_ = rc.statsd.Incr("reddit.api.errors", r.tags, 0.1)
		if strings.Contains(err.Error(), "http2: timeout awaiting response headers") {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	rli := &RateLimitingInfo{Present: false}
	if _, ok := resp.Header[RateLimitRemainingHeader]; ok {
		rli.Present = true
		rli.Remaining, _ = strconv.ParseFloat(resp.Header.Get(RateLimitRemainingHeader), 64)
		rli.Reset, _ = strconv.Atoi(resp.Header.Get(RateLimitResetHeader))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		_ = rc.statsd.Incr("reddit.api.ratelimit", r.tags, 0.1)

		retryAfter := time.Second
		if s, err := strconv.Atoi(resp.Header.Get(RetryAfterHeader)); err == nil && s > 0 {
			retryAfter = time.Duration(s) * time.Second
		}

		return nil, rli, RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode != 200 {
		_ = rc.statsd.Incr("reddit.api.errors", r.tags, 0.1)
		return nil, rli, ServerError{resp.StatusCode}
	}

	bb, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = rc.statsd.Incr("reddit.api.errors", r.tags, 0.1)
		return nil, rli, err
	}
	return bb, rli, nil
}

// do wraps doRequest with the limiter and the retry policy: up to three
// retries, honoring Retry-After on 429s (with a one second floor) and
// exponential backoff capped at 30 seconds otherwise.
func (rc *Client) do(ctx context.Context, r *Request) ([]byte, error) {
	if rc.limiter != nil {
		if err := rc.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	bb, rli, err := rc.doRequest(ctx, r)

	for attempt := 1; err != nil && rc.retry && attempt <= maxRetries; attempt++ {
		if !retryable(err) {
			break
		}

		var rle RateLimitError
		if errors.As(err, &rle) && rc.limiter != nil {
			_ = rc.limiter.BlockFor(ctx, rle.RetryAfter)
		}

		if werr := waitRetry(ctx, attempt, err); werr != nil {
			return nil, werr
		}

		_ = rc.statsd.Incr("reddit.api.retries", r.tags, 0.1)
		bb, rli, err = rc.doRequest(ctx, r)
	}

	if err == nil && rli.Present && rli.Remaining <= RequestRemainingBuffer && rc.limiter != nil {
		_ = rc.statsd.Incr("reddit.api.ratelimit", r.tags, 0.1)
		_ = rc.limiter.BlockFor(ctx, time.Duration(rli.Reset)*time.Second)
	}

	if err != nil {
		var rle RateLimitError
		if errors.As(err, &rle) && rc.limiter != nil {
			_ = rc.limiter.BlockFor(ctx, rle.RetryAfter)
		}
		return nil, err
	}

	return bb, nil
}

func retryable(err error) bool {
	var se ServerError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode >= 500
	}

	var rle RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	// Network-level failures are worth another shot.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func waitRetry(ctx context.Context, attempt int, err error) error {
	var wait time.Duration

	var rle RateLimitError
	if errors.As(err, &rle) {
		wait = rle.RetryAfter
		if wait < time.Second {
			wait = time.Second
		}
	} else {
		secs := math.Min(30, math.Pow(2, float64(attempt-1)))
		wait = time.Duration(secs * float64(time.Second))
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rc *Client) request(ctx context.Context, r *Request, rh ResponseHandler, empty interface{}) (interface{}, error) {
	bb, err := rc.do(ctx, r)
	if err != nil {
		return nil, err
	}

	if len(bb) == 0 {
		return empty, nil
	}

	parser := rc.pool.Get()
	defer rc.pool.Put(parser)

	val, err := parser.ParseBytes(bb)
	if err != nil {
		return nil, err
	}

	return rh(val), nil
}

func (rc *Client) tokenKey() string {
	return fmt.Sprintf("reddit:token:%s", rc.id)
}

// accessToken returns a cached app token, minting a new one through the
// client_credentials grant (or the password grant when a script account is
// configured) as needed.
func (rc *Client) accessToken(ctx context.Context) (string, error) {
	if token, err := rc.redis.Get(ctx, rc.tokenKey()).Result(); err == nil && token != "" {
		return token, nil
	}

	opts := []RequestOption{
		WithTags([]string{"url:/api/v1/access_token"}),
		WithMethod("POST"),
		WithURL("https://www.reddit.com/api/v1/access_token"),
		WithBasicAuth(rc.id, rc.secret),
	}

	if rc.username != "" && rc.password != "" {
		opts = append(opts,
			WithBody("grant_type", "password"),
			WithBody("username", rc.username),
			WithBody("password", rc.password),
		)
	} else {
		opts = append(opts, WithBody("grant_type", "client_credentials"))
	}

	req := NewRequest(opts...)

	bb, _, err := rc.doRequest(ctx, req)
	if err != nil {
		var se ServerError
		if errors.As(err, &se) && (se.StatusCode == 401 || se.StatusCode == 400) {
			return "", ErrAuthFailed
		}
		return "", err
	}

	parser := rc.pool.Get()
	defer rc.pool.Put(parser)

	val, err := parser.ParseBytes(bb)
	if err != nil {
		return "", err
	}

	tr := NewTokenResponse(val).(*TokenResponse)
	if tr.AccessToken == "" {
		return "", ErrAuthFailed
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > tokenTTLBuffer {
		ttl -= tokenTTLBuffer
	}
	_ = rc.redis.SetEX(ctx, rc.tokenKey(), tr.AccessToken, ttl).Err()

	return tr.AccessToken, nil
}

func (rc *Client) authenticatedRequest(ctx context.Context, r *Request, rh ResponseHandler, empty interface{}) (interface{}, error) {
	token, err := rc.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	r.token = token

	return rc.request(ctx, r, rh, empty)
}

// GetSubmission fetches headline metadata for one submission.
func (rc *Client) GetSubmission(ctx context.Context, id string, opts ...RequestOption) (*Submission, error) {
	opts = append([]RequestOption{
		WithTags([]string{"url:/api/info"}),
		WithMethod("GET"),
		WithURL("https://oauth.reddit.com/api/info"),
		WithQuery("id", fmt.Sprintf("t3_%s", id)),
		WithQuery("raw_json", "1"),
	}, opts...)
	req := NewRequest(opts...)

	sr, err := rc.authenticatedRequest(ctx, req, NewSubmissionResponse, nil)
	if err != nil {
		return nil, err
	}

	submission, ok := sr.(*Submission)
	if !ok || submission == nil {
		return nil, ErrSubmissionNotFound
	}

	return submission, nil
}

// FetchSubmissionRaw returns the unparsed comment-page payload for archival.
func (rc *Client) FetchSubmissionRaw(ctx context.Context, id string, opts ...RequestOption) ([]byte, error) {
	opts = append([]RequestOption{
		WithTags([]string{"url:/comments"}),
		WithMethod("GET"),
		WithURL(fmt.Sprintf("https://oauth.reddit.com/comments/%s.json", id)),
		WithQuery("limit", "500"),
		WithQuery("raw_json", "1"),
	}, opts...)
	req := NewRequest(opts...)

	token, err := rc.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.token = token

	return rc.do(ctx, req)
}

// FetchComments flattens the entire comment tree for a submission,
// resolving every "load more" stub before returning.
func (rc *Client) FetchComments(ctx context.Context, id string, opts ...RequestOption) ([]*CommentPayload, error) {
	treeOpts := append([]RequestOption{
		WithTags([]string{"url:/comments"}),
		WithMethod("GET"),
		WithURL(fmt.Sprintf("https://oauth.reddit.com/comments/%s.json", id)),
		WithQuery("limit", "500"),
		WithQuery("sort", "new"),
		WithQuery("raw_json", "1"),
	}, opts...)
	req := NewRequest(treeOpts...)

	tr, err := rc.authenticatedRequest(ctx, req, NewCommentTreeResponse, &CommentTree{})
	if err != nil {
		return nil, err
	}

	tree := tr.(*CommentTree)
	comments := tree.Comments
	pending := tree.MoreIDs

	for len(pending) > 0 {
		batch := pending
		if len(batch) > morechildrenBatch {
			batch = batch[:morechildrenBatch]
		}
		pending = pending[len(batch):]

		moreReq := NewRequest(
			WithTags([]string{"url:/api/morechildren"}),
			WithMethod("GET"),
			WithURL("https://oauth.reddit.com/api/morechildren"),
			WithQuery("link_id", fmt.Sprintf("t3_%s", id)),
			WithQuery("children", strings.Join(batch, ",")),
			WithQuery("api_type", "json"),
			WithQuery("raw_json", "1"),
		)

		mr, err := rc.authenticatedRequest(ctx, moreReq, NewMoreChildrenResponse, &CommentTree{})
		if err != nil {
			return nil, err
		}

		more := mr.(*CommentTree)
		comments = append(comments, more.Comments...)
		pending = append(pending, more.MoreIDs...)
	}

	return comments, nil
}
