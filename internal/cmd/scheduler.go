package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-co-op/gocron"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/cmdutil"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/repository"
)

const (
	batchSize    = 250
	checkTimeout = 60 // lock TTL; how long until a thread may be swept again
)

func SchedulerCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Args:  cobra.ExactArgs(0),
		Short: "Schedules jobs and runs several maintenance tasks periodically.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cmdutil.NewLogger(false)
			defer func() { _ = logger.Sync() }()

			statsd, err := cmdutil.NewStatsdClient()
			if err != nil {
				return err
			}
			defer statsd.Close()

			shutdownTracing, err := cmdutil.NewTracingProvider("socializer-scheduler")
			if err != nil {
				return err
			}
			defer shutdownTracing()

			db, err := cmdutil.NewDatabasePool(ctx, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			redisConn, err := cmdutil.NewRedisClient(ctx)
			if err != nil {
				return err
			}
			defer redisConn.Close()

			queueConn, err := cmdutil.NewQueueClient(logger, redisConn, "scheduler")
			if err != nil {
				return err
			}

			publisher, err := queue.NewPublisher(logger, statsd, redisConn, queueConn)
			if err != nil {
				return err
			}

			// Eval lua so that we don't keep parsing it
			luaSha, err := evalScript(ctx, redisConn)
			if err != nil {
				return err
			}

			threadRepo := repository.NewPostgresThread(db)

			s := gocron.NewScheduler(time.UTC)
			_, _ = s.Every(1).Second().SingletonMode().Do(func() { drainScheduled(ctx, logger, publisher) })
			_, _ = s.Every(1).Minute().SingletonMode().Do(func() { enqueuePolls(ctx, logger, statsd, threadRepo, redisConn, luaSha, publisher) })
			_, _ = s.Every(1).Minute().Do(func() { cleanQueues(ctx, logger, queueConn) })
			_, _ = s.Every(1).Minute().Do(func() { reportStats(ctx, logger, statsd, db, publisher) })
			_, _ = s.Every(1).Minute().Do(func() { cleanStaleLocks(ctx, logger, redisConn) })
			s.StartAsync()

			<-ctx.Done()

			s.Stop()

			return nil
		},
	}

	return cmd
}

func evalScript(ctx context.Context, redis *redis.Client) (string, error) {
	lua := fmt.Sprintf(`
		local retv={}
		local ids=cjson.decode(ARGV[1])

		for i=1, #ids do
			local key = KEYS[1] .. ":" .. ids[i]
			if redis.call("exists", key) == 0 then
				redis.call("setex", key, %d, 1)
				retv[#retv + 1] = ids[i]
			end
		end

		return retv
	`, checkTimeout)

	return redis.ScriptLoad(ctx, lua).Result()
}

// drainScheduled moves due delayed tasks onto their queues.
func drainScheduled(ctx context.Context, logger *zap.Logger, publisher *queue.Publisher) {
	moved, err := publisher.DrainDue(ctx)
	if err != nil {
		logger.Error("failed draining scheduled tasks", zap.Error(err))
		return
	}

	if moved > 0 {
		logger.Debug("drained scheduled tasks", zap.Int64("count", moved))
	}
}

// enqueuePolls re-arms polling for live threads whose self-scheduling chain
// was lost, for example when a worker died between ack and re-enqueue. A
// thread counts as lost once two of its own intervals pass without a poll.
func enqueuePolls(ctx context.Context, logger *zap.Logger, statsd statsd.ClientInterface, threadRepo domain.ThreadRepository, redisConn *redis.Client, luaSha string, publisher *queue.Publisher) {
	start := time.Now()
	cutoff := start.Add(-2 * domain.MinPollInterval)

	threads, err := threadRepo.ListPollable(ctx, cutoff, batchSize)
	if err != nil {
		logger.Error("failed to fetch batch of pollable threads", zap.Error(err))
		return
	}

	ids := make([]int64, 0, len(threads))
	for _, thread := range threads {
		if !thread.LastPolledAt.IsZero() && start.Sub(thread.LastPolledAt) < 2*thread.PollInterval() {
			continue
		}
		ids = append(ids, thread.ID)
	}

	if len(ids) == 0 {
		return
	}

	logger.Debug("enqueueing poll batch", zap.Int("count", len(ids)))

	enqueued := 0
	skipped := 0

	for i := 0; i < len(ids); i += batchSize {
		j := min(i+batchSize, len(ids))
		batch := Int64Slice(ids[i:j])

		res, err := redisConn.EvalSha(ctx, luaSha, []string{"locks:threads"}, batch).Result()
		if err != nil {
			logger.Error("failed to check for locked threads", zap.Error(err))
			continue
		}

		vals := res.([]interface{})
		skipped += len(batch) - len(vals)
		enqueued += len(vals)

		for _, v := range vals {
			threadID := v.(int64)
			if _, err := publisher.Publish(ctx, queue.TaskPollThread, queue.PollThreadArgs{ThreadID: threadID}); err != nil {
				logger.Error("failed to enqueue poll",
					zap.Error(err),
					zap.Int64("thread#id", threadID),
				)
			}
		}
	}

	_ = statsd.Histogram("socializer.queue.polls.enqueued", float64(enqueued), []string{}, 1)
	_ = statsd.Histogram("socializer.queue.polls.skipped", float64(skipped), []string{}, 1)
	_ = statsd.Histogram("socializer.queue.polls.runtime", float64(time.Since(start).Milliseconds()), []string{}, 1)

	logger.Debug("done enqueueing poll batch",
		zap.Int("count", enqueued),
		zap.Int("skipped", skipped),
	)
}

func cleanQueues(ctx context.Context, logger *zap.Logger, jobsConn rmq.Connection) {
	cleaner := rmq.NewCleaner(jobsConn)
	count, err := cleaner.Clean()
	if err != nil {
		logger.Error("failed cleaning jobs from queues", zap.Error(err))
		return
	}

	logger.Debug("returned jobs to queues", zap.Int64("count", count))
}

// cleanStaleLocks drops poll locks that lost their TTL, which would
// otherwise block a thread's sweep forever.
func cleanStaleLocks(ctx context.Context, logger *zap.Logger, redisConn *redis.Client) {
	var cursor uint64
	for {
		keys, next, err := redisConn.Scan(ctx, cursor, "locks:threads:*", 100).Result()
		if err != nil {
			logger.Error("failed scanning locks", zap.Error(err))
			return
		}

		for _, key := range keys {
			ttl, err := redisConn.TTL(ctx, key).Result()
			if err != nil {
				continue
			}
			if ttl < 0 {
				_ = redisConn.Del(ctx, key).Err()
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}
}

func reportStats(ctx context.Context, logger *zap.Logger, statsd statsd.ClientInterface, pool *pgxpool.Pool, publisher *queue.Publisher) {
	var (
		count int64

		metrics = []struct {
			query string
			name  string
		}{
			{"SELECT COUNT(*) FROM threads", "socializer.threads.total"},
			{fmt.Sprintf("SELECT COUNT(*) FROM threads WHERE status = %d", domain.ThreadStatusLive), "socializer.threads.live"},
			{"SELECT COUNT(*) FROM cast_members WHERE is_active", "socializer.cast_members.active"},
			{"SELECT COUNT(*) FROM alert_events WHERE triggered_at > now() - interval '1 day'", "socializer.alerts.events_24h"},
		}
	)

	for _, metric := range metrics {
		_ = pool.QueryRow(ctx, metric.query).Scan(&count)
		_ = statsd.Gauge(metric.name, float64(count), []string{}, 1)

		logger.Debug("fetched metrics",
			zap.Int64("count", count),
			zap.String("metric", metric.name),
		)
	}

	counts, err := publisher.ScheduledCounts(ctx)
	if err != nil {
		logger.Error("failed counting scheduled tasks", zap.Error(err))
		return
	}

	for name, depth := range counts {
		_ = statsd.Gauge("socializer.queue.scheduled_depth", float64(depth), []string{"queue:" + name}, 1)
	}
}

type Int64Slice []int64

func (ii Int64Slice) MarshalBinary() (data []byte, err error) {
	bytes, err := json.Marshal(ii)
	return bytes, err
}
