package queue

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultTaskTimeout bounds a single handler invocation.
	DefaultTaskTimeout = 2 * time.Minute

	maxRetries  = 5
	backoffBase = 5 * time.Second
	backoffCap  = 10 * time.Minute
)

// Handler executes one task. A nil error acks the delivery; anything else
// schedules a retry.
type Handler func(ctx context.Context, env *Envelope) error

// Runner drives rmq deliveries through decode, timeout and retry. Failed
// tasks go back through the publisher's delay set with exponential backoff
// until maxRetries is spent.
type Runner struct {
	logger   *zap.Logger
	statsd   statsd.ClientInterface
	pub      *Publisher
	timeout  time.Duration
	handlers map[string]Handler
}

func NewRunner(logger *zap.Logger, statsd statsd.ClientInterface, pub *Publisher, timeout time.Duration, handlers map[string]Handler) *Runner {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}

	return &Runner{
		logger:   logger,
		statsd:   statsd,
		pub:      pub,
		timeout:  timeout,
		handlers: handlers,
	}
}

// Process consumes one delivery. Matches rmq.ConsumerFunc so consumers can
// hand deliveries straight over.
func (r *Runner) Process(delivery rmq.Delivery) {
	env, err := DecodeEnvelope(delivery.Payload())
	if err != nil {
		r.logger.Error("dropping malformed delivery", zap.Error(err))
		r.count("invalid", "")
		_ = delivery.Reject()
		return
	}

	handler, ok := r.handlers[BaseTask(env.Task)]
	if !ok {
		r.logger.Error("dropping task without handler",
			zap.String("task#id", env.ID),
			zap.String("task#name", env.Task),
		)
		r.count("invalid", env.Task)
		_ = delivery.Reject()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	tracer := otel.Tracer("queue.runner")
	ctx, span := tracer.Start(ctx, "queue."+BaseTask(env.Task), trace.WithAttributes(
		attribute.String("task.id", env.ID),
		attribute.Int("task.attempt", env.Attempt),
	))
	defer span.End()

	start := time.Now()
	err = handler(ctx, env)
	_ = r.statsd.Histogram("socializer.queue.runtime", float64(time.Since(start).Milliseconds()), []string{"task:" + BaseTask(env.Task)}, 0.1)

	if err == nil {
		r.count("success", env.Task)
		_ = delivery.Ack()
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	r.retry(env, delivery, err)
}

func (r *Runner) retry(env *Envelope, delivery rmq.Delivery, cause error) {
	attempt := env.Attempt + 1
	if attempt > maxRetries {
		r.logger.Error("task failed permanently",
			zap.Error(cause),
			zap.String("task#id", env.ID),
			zap.String("task#name", env.Task),
			zap.Int("task#attempt", env.Attempt),
		)
		r.count("failure", env.Task)
		_ = delivery.Reject()
		return
	}

	next := &Envelope{
		ID:         env.ID,
		Task:       env.Task,
		Args:       env.Args,
		Attempt:    attempt,
		EnqueuedAt: time.Now().UTC(),
	}

	delay := backoff(attempt)
	if err := r.pub.scheduleEnvelope(context.Background(), delay, next); err != nil {
		r.logger.Error("could not schedule retry",
			zap.Error(err),
			zap.String("task#id", env.ID),
			zap.String("task#name", env.Task),
		)
		r.count("failure", env.Task)
		_ = delivery.Reject()
		return
	}

	r.logger.Warn("task failed, retrying",
		zap.Error(cause),
		zap.String("task#id", env.ID),
		zap.String("task#name", env.Task),
		zap.Int("task#attempt", attempt),
		zap.Duration("task#delay", delay),
	)
	r.count("retry", env.Task)
	_ = delivery.Ack()
}

func (r *Runner) count(outcome, task string) {
	tags := []string{"outcome:" + outcome}
	if task != "" {
		tags = append(tags, "task:"+BaseTask(task))
	}

	_ = r.statsd.Incr("socializer.queue.process", tags, 1)
}

// backoff doubles per attempt with jitter, capped at backoffCap.
func backoff(attempt int) time.Duration {
	jitter := 0.5 + rand.Float64()

	secs := backoffBase.Seconds() * math.Pow(2, float64(attempt)) * jitter
	if limit := backoffCap.Seconds(); secs > limit {
		secs = limit
	}

	return time.Duration(secs * float64(time.Second))
}
