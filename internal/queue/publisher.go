package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const drainBatchSize = 100

// drainScript pops every due member so two schedulers never publish the
// same payload twice.
var drainScript = redis.NewScript(`
	local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
	if #due > 0 then
		redis.call("ZREM", KEYS[1], unpack(due))
	end
	return due
`)

// Publisher routes task envelopes onto their queues, either immediately or
// after a delay via a redis sorted set that DrainDue flushes.
type Publisher struct {
	logger *zap.Logger
	statsd statsd.ClientInterface
	redis  *redis.Client
	queues map[string]rmq.Queue
	polls  sync.Map
}

func NewPublisher(logger *zap.Logger, statsd statsd.ClientInterface, redisClient *redis.Client, conn rmq.Connection) (*Publisher, error) {
	queues := make(map[string]rmq.Queue, len(Queues))

	for _, name := range Queues {
		queue, err := conn.OpenQueue(name)
		if err != nil {
			return nil, fmt.Errorf("could not open queue %s: %w", name, err)
		}
		queues[name] = queue
	}

	return &Publisher{
		logger: logger,
		statsd: statsd,
		redis:  redisClient,
		queues: queues,
	}, nil
}

// Publish enqueues a task for immediate consumption.
func (p *Publisher) Publish(ctx context.Context, task string, args interface{}) (*Envelope, error) {
	env, err := NewEnvelope(task, args)
	if err != nil {
		return nil, err
	}

	if err := p.publishEnvelope(ctx, env); err != nil {
		return nil, err
	}

	return env, nil
}

// PublishIn enqueues a task that becomes consumable after the delay elapses.
func (p *Publisher) PublishIn(ctx context.Context, delay time.Duration, task string, args interface{}) (*Envelope, error) {
	env, err := NewEnvelope(task, args)
	if err != nil {
		return nil, err
	}

	if err := p.scheduleEnvelope(ctx, delay, env); err != nil {
		return nil, err
	}

	return env, nil
}

// SchedulePoll enqueues the next poll for a thread, suppressing duplicates
// enqueued within the same interval window. The cache is per process, so a
// racing process can still double enqueue; polling tolerates that.
func (p *Publisher) SchedulePoll(ctx context.Context, threadID int64, interval time.Duration) (bool, error) {
	if interval < time.Second {
		interval = time.Second
	}

	if last, ok := p.polls.Load(threadID); ok {
		if time.Since(last.(time.Time)) < interval {
			return false, nil
		}
	}
	p.polls.Store(threadID, time.Now())

	if _, err := p.PublishIn(ctx, interval, TaskPollThread, PollThreadArgs{ThreadID: threadID}); err != nil {
		p.polls.Delete(threadID)
		return false, err
	}

	return true, nil
}

// DrainDue moves every scheduled payload whose time has come onto its queue.
// Returns the number of payloads moved.
func (p *Publisher) DrainDue(ctx context.Context) (int64, error) {
	var moved int64

	now := time.Now().UnixMilli()

	for _, name := range Queues {
		for {
			payloads, err := drainScript.Run(ctx, p.redis, []string{scheduledKey(name)}, now, drainBatchSize).StringSlice()
			if err == redis.Nil {
				break
			} else if err != nil {
				return moved, fmt.Errorf("could not drain queue %s: %w", name, err)
			}

			for _, payload := range payloads {
				if err := p.queues[name].Publish(payload); err != nil {
					p.logger.Error("could not publish drained payload, rescheduling",
						zap.Error(err),
						zap.String("queue#name", name),
					)
					_ = p.redis.ZAdd(ctx, scheduledKey(name), &redis.Z{Score: float64(now), Member: payload}).Err()
					continue
				}
				moved++
			}

			if len(payloads) < drainBatchSize {
				break
			}
		}
	}

	if moved > 0 {
		_ = p.statsd.Count("socializer.queue.drained", moved, nil, 1)
	}

	return moved, nil
}

// ScheduledCounts reports how many payloads are waiting per queue.
func (p *Publisher) ScheduledCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Queues))

	for _, name := range Queues {
		count, err := p.redis.ZCard(ctx, scheduledKey(name)).Result()
		if err != nil {
			return nil, err
		}
		counts[name] = count
	}

	return counts, nil
}

func (p *Publisher) publishEnvelope(ctx context.Context, env *Envelope) error {
	name := QueueFor(env.Task)

	payload, err := env.Encode()
	if err != nil {
		return err
	}

	if err := p.queues[name].Publish(payload); err != nil {
		return fmt.Errorf("could not publish %s: %w", env.Task, err)
	}

	_ = p.statsd.Incr("socializer.queue.published", []string{"task:" + BaseTask(env.Task), "queue:" + name}, 1)
	return nil
}

func (p *Publisher) scheduleEnvelope(ctx context.Context, delay time.Duration, env *Envelope) error {
	name := QueueFor(env.Task)

	payload, err := env.Encode()
	if err != nil {
		return err
	}

	score := float64(time.Now().Add(delay).UnixMilli())
	if err := p.redis.ZAdd(ctx, scheduledKey(name), &redis.Z{Score: score, Member: payload}).Err(); err != nil {
		return fmt.Errorf("could not schedule %s: %w", env.Task, err)
	}

	_ = p.statsd.Incr("socializer.queue.scheduled", []string{"task:" + BaseTask(env.Task), "queue:" + name}, 1)
	return nil
}

func scheduledKey(queue string) string {
	return "socializer:scheduled:" + queue
}
