package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/reddit"
	"github.com/therealityreport/socializer-backend/internal/sentiment"
	"github.com/therealityreport/socializer-backend/internal/testhelper"
)

// RoundTripFunc .
type RoundTripFunc func(req *http.Request) *http.Response

// RoundTrip .
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

// NewTestClient returns *http.Client with Transport replaced to avoid making real calls
func NewTestClient(fn RoundTripFunc) *http.Client {
	return &http.Client{Transport: fn}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

// newTestAPI builds an api over fake repositories and a real publisher backed
// by an in-memory redis. Tests swap in configured fakes per case.
func newTestAPI(t *testing.T) (*api, rmq.Connection) {
	t.Helper()

	_, client := testhelper.NewTestRedis(t)

	errChan := make(chan error, 16)
	go func() {
		for range errChan {
		}
	}()

	conn, err := rmq.OpenConnectionWithRedisClient("test", client, errChan)
	require.NoError(t, err)
	t.Cleanup(func() { <-conn.StopAllConsuming() })

	pub, err := queue.NewPublisher(zap.NewNop(), &statsd.NoOpClient{}, client, conn)
	require.NoError(t, err)

	return &api{
		logger:    zap.NewNop(),
		statsd:    &statsd.NoOpClient{},
		redis:     client,
		publisher: pub,

		threadRepo:    &fakeThreadRepo{},
		commentRepo:   &fakeCommentRepo{},
		castRepo:      &fakeCastMemberRepo{},
		mentionRepo:   &fakeMentionRepo{},
		aggregateRepo: &fakeAggregateRepo{},
		ruleRepo:      &fakeAlertRuleRepo{},
		eventRepo:     &fakeAlertEventRepo{},
	}, conn
}

func doRequest(t *testing.T, a *api, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	a.Routes().ServeHTTP(rr, req)

	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), into))
}

// consumeEnvelopes drains n deliveries from the named queue.
func consumeEnvelopes(t *testing.T, conn rmq.Connection, name string, n int) []*queue.Envelope {
	t.Helper()

	q, err := conn.OpenQueue(name)
	require.NoError(t, err)
	require.NoError(t, q.StartConsuming(10, 10*time.Millisecond))

	payloads := make(chan string, n)
	_, err = q.AddConsumerFunc("capture", func(delivery rmq.Delivery) {
		payloads <- delivery.Payload()
		_ = delivery.Ack()
	})
	require.NoError(t, err)

	envs := make([]*queue.Envelope, 0, n)
	for len(envs) < n {
		select {
		case payload := <-payloads:
			env, err := queue.DecodeEnvelope(payload)
			require.NoError(t, err)
			envs = append(envs, env)
		case <-time.After(2 * time.Second):
			t.Fatalf("wanted %d deliveries on queue %s, got %d", n, name, len(envs))
		}
	}

	return envs
}

// stubRedditClient answers reddit calls from the supplied script.
func stubRedditClient(fn RoundTripFunc) *reddit.Client {
	db, _ := redismock.NewClientMock()

	cfg := config.RedditSettings{
		ClientID:     "id",
		ClientSecret: "secret",
		UserAgent:    "socializer test suite",
	}

	return reddit.NewClient(cfg, &statsd.NoOpClient{}, db, nil, 1, reddit.WithRetry(false), reddit.WithClient(NewTestClient(fn)))
}

const tokenBody = `{"access_token":"test-token","token_type":"bearer","expires_in":3600,"scope":"*"}`

// stubPipeline fakes the inference sidecar, scoring every input with fn.
func stubPipeline(t *testing.T, score func(input string) string) *sentiment.Pipeline {
	t.Helper()

	tc := NewTestClient(func(req *http.Request) *http.Response {
		payload, err := io.ReadAll(req.Body)
		require.NoError(t, err)

		var body struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.Unmarshal(payload, &body))

		preds := make([]string, len(body.Inputs))
		for i, input := range body.Inputs {
			preds[i] = score(input)
		}
		return jsonResponse(http.StatusOK, `{"predictions":[`+strings.Join(preds, ",")+`]}`)
	})

	cfg := config.SentimentSettings{
		PrimaryURL:   "http://sidecar.local",
		PrimaryModel: "reality-sentiment-v2",
	}
	primary := sentiment.NewInferenceClient(cfg, sentiment.WithInferenceHTTPClient(tc))

	return sentiment.NewPipeline(context.Background(), zap.NewNop(), &statsd.NoOpClient{}, cfg, primary, nil)
}

type fakeThreadRepo struct {
	getByIDFunc       func(ctx context.Context, id int64) (domain.Thread, error)
	getByRedditIDFunc func(ctx context.Context, redditID string) (domain.Thread, error)
	listFunc          func(ctx context.Context, limit, offset int) ([]domain.Thread, error)
	createFunc        func(ctx context.Context, thread *domain.Thread) error
	updateFunc        func(ctx context.Context, thread *domain.Thread) error
	deleteFunc        func(ctx context.Context, id int64) error
}

func (f *fakeThreadRepo) GetByID(ctx context.Context, id int64) (domain.Thread, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return domain.Thread{}, domain.ErrNotFound
}

func (f *fakeThreadRepo) GetByRedditID(ctx context.Context, redditID string) (domain.Thread, error) {
	if f.getByRedditIDFunc != nil {
		return f.getByRedditIDFunc(ctx, redditID)
	}
	return domain.Thread{}, domain.ErrNotFound
}

func (f *fakeThreadRepo) List(ctx context.Context, limit, offset int) ([]domain.Thread, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, limit, offset)
	}
	return nil, nil
}

func (f *fakeThreadRepo) ListPollable(ctx context.Context, notPolledSince time.Time, limit int) ([]domain.Thread, error) {
	return nil, nil
}

func (f *fakeThreadRepo) Create(ctx context.Context, thread *domain.Thread) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, thread)
	}
	return nil
}

func (f *fakeThreadRepo) Update(ctx context.Context, thread *domain.Thread) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, thread)
	}
	return nil
}

func (f *fakeThreadRepo) Delete(ctx context.Context, id int64) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, id)
	}
	return nil
}

type fakeCommentRepo struct {
	listByThreadFunc    func(ctx context.Context, threadID int64, opts domain.CommentListOptions) ([]domain.Comment, error)
	listIDsByThreadFunc func(ctx context.Context, threadID int64) ([]int64, error)
	countByThreadFunc   func(ctx context.Context, threadID int64) (int64, error)
}

func (f *fakeCommentRepo) GetByIDs(ctx context.Context, ids []int64) ([]domain.Comment, error) {
	return nil, nil
}

func (f *fakeCommentRepo) GetByRedditID(ctx context.Context, threadID int64, redditID string) (domain.Comment, error) {
	return domain.Comment{}, domain.ErrNotFound
}

func (f *fakeCommentRepo) ListByThread(ctx context.Context, threadID int64, opts domain.CommentListOptions) ([]domain.Comment, error) {
	if f.listByThreadFunc != nil {
		return f.listByThreadFunc(ctx, threadID, opts)
	}
	return nil, nil
}

func (f *fakeCommentRepo) ListRedditIDs(ctx context.Context, threadID int64, redditIDs []string) (map[string]domain.Comment, error) {
	return nil, nil
}

func (f *fakeCommentRepo) ListIDsByThread(ctx context.Context, threadID int64) ([]int64, error) {
	if f.listIDsByThreadFunc != nil {
		return f.listIDsByThreadFunc(ctx, threadID)
	}
	return nil, nil
}

func (f *fakeCommentRepo) CountByThread(ctx context.Context, threadID int64) (int64, error) {
	if f.countByThreadFunc != nil {
		return f.countByThreadFunc(ctx, threadID)
	}
	return 0, nil
}

func (f *fakeCommentRepo) Create(ctx context.Context, comment *domain.Comment) error { return nil }

func (f *fakeCommentRepo) Update(ctx context.Context, comment *domain.Comment) error { return nil }

func (f *fakeCommentRepo) UpdateSentiment(ctx context.Context, comment *domain.Comment) error {
	return nil
}

func (f *fakeCommentRepo) IncrementReplyCounts(ctx context.Context, refs []domain.CommentRef, seenAt time.Time) error {
	return nil
}

type fakeCastMemberRepo struct {
	getByIDFunc    func(ctx context.Context, id int64) (domain.CastMember, error)
	listFunc       func(ctx context.Context) ([]domain.CastMember, error)
	listActiveFunc func(ctx context.Context) ([]domain.CastMember, error)
	createFunc     func(ctx context.Context, cm *domain.CastMember) error
	updateFunc     func(ctx context.Context, cm *domain.CastMember) error
	deleteFunc     func(ctx context.Context, id int64) error
}

func (f *fakeCastMemberRepo) GetByID(ctx context.Context, id int64) (domain.CastMember, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return domain.CastMember{}, domain.ErrNotFound
}

func (f *fakeCastMemberRepo) GetBySlug(ctx context.Context, slug string) (domain.CastMember, error) {
	return domain.CastMember{}, domain.ErrNotFound
}

func (f *fakeCastMemberRepo) List(ctx context.Context) ([]domain.CastMember, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx)
	}
	return nil, nil
}

func (f *fakeCastMemberRepo) ListActive(ctx context.Context) ([]domain.CastMember, error) {
	if f.listActiveFunc != nil {
		return f.listActiveFunc(ctx)
	}
	return nil, nil
}

func (f *fakeCastMemberRepo) Create(ctx context.Context, cm *domain.CastMember) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, cm)
	}
	return nil
}

func (f *fakeCastMemberRepo) Update(ctx context.Context, cm *domain.CastMember) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, cm)
	}
	return nil
}

func (f *fakeCastMemberRepo) Delete(ctx context.Context, id int64) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, id)
	}
	return nil
}

type fakeMentionRepo struct {
	listForThreadFunc func(ctx context.Context, threadID int64) ([]domain.ThreadMention, error)
}

func (f *fakeMentionRepo) ListByComment(ctx context.Context, commentID int64, commentCreatedAt time.Time) ([]domain.Mention, error) {
	return nil, nil
}

func (f *fakeMentionRepo) ListForThread(ctx context.Context, threadID int64) ([]domain.ThreadMention, error) {
	if f.listForThreadFunc != nil {
		return f.listForThreadFunc(ctx, threadID)
	}
	return nil, nil
}

func (f *fakeMentionRepo) CountForThread(ctx context.Context, threadID int64) (int64, error) {
	return 0, nil
}

func (f *fakeMentionRepo) CreateBatch(ctx context.Context, mentions []*domain.Mention) error {
	return nil
}

func (f *fakeMentionRepo) DeleteByComment(ctx context.Context, commentID int64, commentCreatedAt time.Time) error {
	return nil
}

type fakeAggregateRepo struct {
	listByThreadFunc func(ctx context.Context, threadID int64) ([]domain.Aggregate, error)
}

func (f *fakeAggregateRepo) ListByThread(ctx context.Context, threadID int64) ([]domain.Aggregate, error) {
	if f.listByThreadFunc != nil {
		return f.listByThreadFunc(ctx, threadID)
	}
	return nil, nil
}

func (f *fakeAggregateRepo) ReplaceForThread(ctx context.Context, threadID int64, aggregates []*domain.Aggregate) error {
	return nil
}

type fakeAlertRuleRepo struct {
	getByIDFunc func(ctx context.Context, id int64) (domain.AlertRule, error)
	listFunc    func(ctx context.Context) ([]domain.AlertRule, error)
	createFunc  func(ctx context.Context, rule *domain.AlertRule) error
	updateFunc  func(ctx context.Context, rule *domain.AlertRule) error
	deleteFunc  func(ctx context.Context, id int64) error
}

func (f *fakeAlertRuleRepo) GetByID(ctx context.Context, id int64) (domain.AlertRule, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return domain.AlertRule{}, domain.ErrNotFound
}

func (f *fakeAlertRuleRepo) List(ctx context.Context) ([]domain.AlertRule, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx)
	}
	return nil, nil
}

func (f *fakeAlertRuleRepo) ListActiveForThread(ctx context.Context, threadID int64) ([]domain.AlertRule, error) {
	return nil, nil
}

func (f *fakeAlertRuleRepo) Create(ctx context.Context, rule *domain.AlertRule) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, rule)
	}
	return nil
}

func (f *fakeAlertRuleRepo) Update(ctx context.Context, rule *domain.AlertRule) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, rule)
	}
	return nil
}

func (f *fakeAlertRuleRepo) Delete(ctx context.Context, id int64) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, id)
	}
	return nil
}

type fakeAlertEventRepo struct {
	listByThreadFunc func(ctx context.Context, threadID int64) ([]domain.AlertEvent, error)
}

func (f *fakeAlertEventRepo) GetByID(ctx context.Context, id int64) (domain.AlertEvent, error) {
	return domain.AlertEvent{}, domain.ErrNotFound
}

func (f *fakeAlertEventRepo) GetLatestByRule(ctx context.Context, ruleID int64) (domain.AlertEvent, error) {
	return domain.AlertEvent{}, domain.ErrNotFound
}

func (f *fakeAlertEventRepo) ListByThread(ctx context.Context, threadID int64) ([]domain.AlertEvent, error) {
	if f.listByThreadFunc != nil {
		return f.listByThreadFunc(ctx, threadID)
	}
	return nil, nil
}

func (f *fakeAlertEventRepo) Create(ctx context.Context, event *domain.AlertEvent) error {
	return nil
}

func (f *fakeAlertEventRepo) UpdateDeliveredChannels(ctx context.Context, id int64, channels []domain.AlertChannel) error {
	return nil
}
