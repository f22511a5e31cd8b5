package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/bugsnag/bugsnag-go/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/ratelimit"
	"github.com/therealityreport/socializer-backend/internal/reddit"
	"github.com/therealityreport/socializer-backend/internal/repository"
	"github.com/therealityreport/socializer-backend/internal/sentiment"
)

const redditConnLimit = 16

type api struct {
	logger    *zap.Logger
	statsd    statsd.ClientInterface
	db        *pgxpool.Pool
	redis     *redis.Client
	reddit    *reddit.Client
	publisher *queue.Publisher
	pipeline  *sentiment.Pipeline
	auth      *authenticator

	threadRepo    domain.ThreadRepository
	commentRepo   domain.CommentRepository
	castRepo      domain.CastMemberRepository
	mentionRepo   domain.MentionRepository
	aggregateRepo domain.AggregateRepository
	ruleRepo      domain.AlertRuleRepository
	eventRepo     domain.AlertEventRepository
}

func NewAPI(
	ctx context.Context,
	logger *zap.Logger,
	statsd statsd.ClientInterface,
	cfg config.Settings,
	redisConn *redis.Client,
	pool *pgxpool.Pool,
	queueConn rmq.Connection,
) (*api, error) {
	limiter := ratelimit.New(logger, statsd, redisConn, "reddit", cfg.Reddit.RateLimitCalls, cfg.Reddit.RateLimitPeriod)
	redditClient := reddit.NewClient(cfg.Reddit, statsd, redisConn, limiter, redditConnLimit)

	publisher, err := queue.NewPublisher(logger, statsd, redisConn, queueConn)
	if err != nil {
		return nil, err
	}

	primary := sentiment.NewInferenceClient(cfg.Sentiment)
	var fallback *sentiment.OpinionsClient
	if cfg.Sentiment.FallbackEnabled {
		fallback = sentiment.NewOpinionsClient(cfg.Sentiment)
	}
	pipeline := sentiment.NewPipeline(ctx, logger, statsd, cfg.Sentiment, primary, fallback)

	auth, err := newAuthenticator(ctx, cfg.Auth.JWKSURL(), cfg.Auth.Issuer(), cfg.Auth.Audience, cfg.Auth.Algorithms)
	if err != nil {
		return nil, err
	}

	return &api{
		logger:    logger,
		statsd:    statsd,
		db:        pool,
		redis:     redisConn,
		reddit:    redditClient,
		publisher: publisher,
		pipeline:  pipeline,
		auth:      auth,

		threadRepo:    repository.NewPostgresThread(pool),
		commentRepo:   repository.NewPostgresComment(pool),
		castRepo:      repository.NewPostgresCastMember(pool),
		mentionRepo:   repository.NewPostgresMention(pool),
		aggregateRepo: repository.NewPostgresAggregate(pool),
		ruleRepo:      repository.NewPostgresAlertRule(pool),
		eventRepo:     repository.NewPostgresAlertEvent(pool),
	}, nil
}

func (a *api) Server(port int) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: otelhttp.NewHandler(bugsnag.Handler(a.Routes()), "api"),
	}
}

func (a *api) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.healthCheckHandler).Methods("GET")
	r.HandleFunc("/healthz", a.healthCheckHandler).Methods("GET")
	r.HandleFunc("/ready", a.readyCheckHandler).Methods("GET")

	r.HandleFunc("/v1/threads", a.createThreadHandler).Methods("POST")
	r.HandleFunc("/v1/threads", a.listThreadsHandler).Methods("GET")
	r.HandleFunc("/v1/threads/bulk", a.bulkCreateThreadsHandler).Methods("POST")
	r.HandleFunc("/v1/threads/lookup", a.lookupThreadHandler).Methods("GET")
	r.HandleFunc("/v1/threads/{id}", a.getThreadHandler).Methods("GET")
	r.HandleFunc("/v1/threads/{id}", a.updateThreadHandler).Methods("PUT")
	r.HandleFunc("/v1/threads/{id}", a.deleteThreadHandler).Methods("DELETE")
	r.HandleFunc("/v1/threads/{id}/comments", a.listCommentsHandler).Methods("GET")
	r.HandleFunc("/v1/threads/{id}/reanalyze", a.reanalyzeThreadHandler).Methods("POST")
	r.HandleFunc("/v1/threads/{id}/insights", a.threadInsightsHandler).Methods("GET")
	r.HandleFunc("/v1/threads/{id}/events", a.listAlertEventsHandler).Methods("GET")

	r.HandleFunc("/v1/cast-members", a.createCastMemberHandler).Methods("POST")
	r.HandleFunc("/v1/cast-members", a.listCastMembersHandler).Methods("GET")
	r.HandleFunc("/v1/cast-members/{id}", a.getCastMemberHandler).Methods("GET")
	r.HandleFunc("/v1/cast-members/{id}", a.updateCastMemberHandler).Methods("PUT")
	r.HandleFunc("/v1/cast-members/{id}", a.deleteCastMemberHandler).Methods("DELETE")

	r.HandleFunc("/v1/alert-rules", a.createAlertRuleHandler).Methods("POST")
	r.HandleFunc("/v1/alert-rules", a.listAlertRulesHandler).Methods("GET")
	r.HandleFunc("/v1/alert-rules/{id}", a.getAlertRuleHandler).Methods("GET")
	r.HandleFunc("/v1/alert-rules/{id}", a.updateAlertRuleHandler).Methods("PUT")
	r.HandleFunc("/v1/alert-rules/{id}", a.deleteAlertRuleHandler).Methods("DELETE")

	r.HandleFunc("/v1/sentiment/analyze", a.analyzeSentimentHandler).Methods("POST")

	r.HandleFunc("/v1/test/bugsnag", a.testBugsnagHandler).Methods("POST")

	r.Use(a.loggingMiddleware)
	r.Use(a.authMiddleware)

	return r
}

func (a *api) testBugsnagHandler(w http.ResponseWriter, r *http.Request) {
	if err := bugsnag.Notify(fmt.Errorf("test error from the api")); err != nil {
		a.errorResponse(w, r, 500, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// healthCheckPath reports whether the path is a probe, which skips both
// request logging and token verification.
func healthCheckPath(path string) bool {
	switch path {
	case "/health", "/healthz", "/ready":
		return true
	}

	return false
}

type LoggingResponseWriter struct {
	w          http.ResponseWriter
	statusCode int
	bytes      int
}

func (lrw *LoggingResponseWriter) Header() http.Header {
	return lrw.w.Header()
}

func (lrw *LoggingResponseWriter) Write(bb []byte) (int, error) {
	wb, err := lrw.w.Write(bb)
	lrw.bytes += wb
	return wb, err
}

func (lrw *LoggingResponseWriter) WriteHeader(statusCode int) {
	lrw.w.WriteHeader(statusCode)
	lrw.statusCode = statusCode
}

func (a *api) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip logging health checks
		if healthCheckPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		lrw := &LoggingResponseWriter{w: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		remoteAddr := r.Header.Get("X-Forwarded-For")
		if remoteAddr == "" {
			if ip, _, err := net.SplitHostPort(r.RemoteAddr); err != nil {
				remoteAddr = "unknown"
			} else {
				remoteAddr = ip
			}
		}

		entry := a.logger.With(
			zap.Int64("duration", time.Since(start).Milliseconds()),
			zap.String("method", r.Method),
			zap.String("remote#addr", remoteAddr),
			zap.Int("response#bytes", lrw.bytes),
			zap.Int("status", lrw.statusCode),
			zap.String("uri", r.RequestURI),
		)

		if lrw.statusCode < 400 {
			entry.Info("")
		} else {
			entry.Error(lrw.Header().Get("X-Socializer-Error"))
		}
	})
}
