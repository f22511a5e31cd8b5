package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/blob"
	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/ingest"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/ratelimit"
	"github.com/therealityreport/socializer-backend/internal/reddit"
	"github.com/therealityreport/socializer-backend/internal/repository"
)

// classifyBatchSize caps how many comment ids ride in one classify task, so
// a huge first ingest fans out instead of hogging a single consumer.
const classifyBatchSize = 50

type ingestionWorker struct {
	logger    *zap.Logger
	statsd    statsd.ClientInterface
	conn      rmq.Connection
	consumers int

	engine    *ingest.Engine
	publisher *queue.Publisher
	runner    *queue.Runner
}

func NewIngestionWorker(logger *zap.Logger, statsd statsd.ClientInterface, db *pgxpool.Pool, redisConn *redis.Client, queueConn rmq.Connection, cfg config.Settings, consumers int) (Worker, error) {
	limiter := ratelimit.New(logger, statsd, redisConn, "reddit", cfg.Reddit.RateLimitCalls, cfg.Reddit.RateLimitPeriod)
	redditClient := reddit.NewClient(cfg.Reddit, statsd, redisConn, limiter, consumers)

	var archiver ingest.Archiver
	if cfg.Blob.Bucket != "" {
		store, err := blob.NewStore(context.Background(), cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("could not create blob store: %w", err)
		}
		archiver = store
	}

	engine := ingest.NewEngine(
		logger,
		statsd,
		redditClient,
		archiver,
		repository.NewPostgresThread(db),
		repository.NewPostgresRedditThread(db),
		repository.NewPostgresComment(db),
		cfg,
	)

	publisher, err := queue.NewPublisher(logger, statsd, redisConn, queueConn)
	if err != nil {
		return nil, err
	}

	iw := &ingestionWorker{
		logger:    logger,
		statsd:    statsd,
		conn:      queueConn,
		consumers: consumers,
		engine:    engine,
		publisher: publisher,
	}

	iw.runner = queue.NewRunner(logger, statsd, publisher, cfg.Queue.TaskTimeLimit, map[string]queue.Handler{
		queue.TaskIngestThread: iw.ingestThread,
		queue.TaskPollThread:   iw.pollThread,
	})

	return iw, nil
}

func (iw *ingestionWorker) Start() error {
	q, err := iw.conn.OpenQueue(queue.QueueIngestion)
	if err != nil {
		return err
	}

	iw.logger.Info("starting up ingestion worker", zap.Int("consumers", iw.consumers))

	prefetchLimit := int64(iw.consumers * 2)

	if err := q.StartConsuming(prefetchLimit, pollDuration); err != nil {
		return err
	}

	host, _ := os.Hostname()

	for i := 0; i < iw.consumers; i++ {
		name := fmt.Sprintf("consumer %s-%d", host, i)

		consumer := NewIngestionConsumer(iw, i)
		if _, err := q.AddConsumer(name, consumer); err != nil {
			return err
		}
	}

	return nil
}

func (iw *ingestionWorker) Stop() {
	<-iw.conn.StopAllConsuming() // wait for all Consume() calls to finish
}

func (iw *ingestionWorker) ingestThread(ctx context.Context, env *queue.Envelope) error {
	var args queue.IngestThreadArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}

	result, err := iw.engine.IngestThread(ctx, args.RedditID, args.Subreddit)
	if err != nil {
		return err
	}

	if err := iw.enqueueClassification(ctx, result.CommentIDs); err != nil {
		return err
	}

	if result.ShouldSchedulePoll {
		if _, err := iw.publisher.SchedulePoll(ctx, result.ThreadID, result.PollInterval); err != nil {
			return err
		}
	}

	return nil
}

func (iw *ingestionWorker) pollThread(ctx context.Context, env *queue.Envelope) error {
	var args queue.PollThreadArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}

	result, err := iw.engine.PollThread(ctx, args.ThreadID)
	if err != nil {
		return err
	}

	if err := iw.enqueueClassification(ctx, result.CommentIDs); err != nil {
		return err
	}

	if result.ShouldContinue {
		if _, err := iw.publisher.SchedulePoll(ctx, result.ThreadID, result.PollInterval); err != nil {
			return err
		}
	}

	return nil
}

func (iw *ingestionWorker) enqueueClassification(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += classifyBatchSize {
		end := min(start+classifyBatchSize, len(ids))

		args := queue.ClassifyCommentsArgs{CommentIDs: ids[start:end]}
		if _, err := iw.publisher.Publish(ctx, queue.TaskClassifyComments, args); err != nil {
			return err
		}
	}

	return nil
}

type ingestionConsumer struct {
	*ingestionWorker
	tag int
}

func NewIngestionConsumer(iw *ingestionWorker, tag int) *ingestionConsumer {
	return &ingestionConsumer{iw, tag}
}

func (ic *ingestionConsumer) Consume(delivery rmq.Delivery) {
	ic.runner.Process(delivery)
}
