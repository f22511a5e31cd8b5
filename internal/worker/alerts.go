package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/alerting"
	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/distributedlock"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/repository"
)

// deliveryLockTTL bounds how long a crashed consumer can block
// redelivery of the same alert event.
const deliveryLockTTL = time.Minute

type alertsWorker struct {
	logger    *zap.Logger
	statsd    statsd.ClientInterface
	conn      rmq.Connection
	consumers int

	evaluator *alerting.Evaluator
	delivery  *alerting.Delivery
	publisher *queue.Publisher
	runner    *queue.Runner
	locks     *distributedlock.DistributedLock

	ruleRepo  domain.AlertRuleRepository
	eventRepo domain.AlertEventRepository
}

func NewAlertsWorker(logger *zap.Logger, statsd statsd.ClientInterface, db *pgxpool.Pool, redisConn *redis.Client, queueConn rmq.Connection, cfg config.Settings, consumers int) (Worker, error) {
	ruleRepo := repository.NewPostgresAlertRule(db)
	eventRepo := repository.NewPostgresAlertEvent(db)

	evaluator := alerting.NewEvaluator(logger, statsd, ruleRepo, eventRepo, repository.NewPostgresAggregate(db))
	delivery := alerting.NewDelivery(logger, statsd, cfg.Alerts,
		repository.NewPostgresThread(db),
		repository.NewPostgresCastMember(db),
		eventRepo,
	)

	publisher, err := queue.NewPublisher(logger, statsd, redisConn, queueConn)
	if err != nil {
		return nil, err
	}

	aw := &alertsWorker{
		logger:    logger,
		statsd:    statsd,
		conn:      queueConn,
		consumers: consumers,
		evaluator: evaluator,
		delivery:  delivery,
		publisher: publisher,
		locks:     distributedlock.New(redisConn, deliveryLockTTL),
		ruleRepo:  ruleRepo,
		eventRepo: eventRepo,
	}

	aw.runner = queue.NewRunner(logger, statsd, publisher, cfg.Queue.TaskTimeLimit, map[string]queue.Handler{
		queue.TaskCheckAlerts:       aw.checkAlerts,
		queue.TaskDeliverAlertEvent: aw.deliverAlertEvent,
	})

	return aw, nil
}

func (aw *alertsWorker) Start() error {
	q, err := aw.conn.OpenQueue(queue.QueueAlerts)
	if err != nil {
		return err
	}

	aw.logger.Info("starting up alerts worker", zap.Int("consumers", aw.consumers))

	prefetchLimit := int64(aw.consumers * 2)

	if err := q.StartConsuming(prefetchLimit, pollDuration); err != nil {
		return err
	}

	host, _ := os.Hostname()

	for i := 0; i < aw.consumers; i++ {
		name := fmt.Sprintf("consumer %s-%d", host, i)

		consumer := NewAlertsConsumer(aw, i)
		if _, err := q.AddConsumer(name, consumer); err != nil {
			return err
		}
	}

	return nil
}

func (aw *alertsWorker) Stop() {
	<-aw.conn.StopAllConsuming() // wait for all Consume() calls to finish
}

func (aw *alertsWorker) checkAlerts(ctx context.Context, env *queue.Envelope) error {
	var args queue.CheckAlertsArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}

	events, err := aw.evaluator.EvaluateThread(ctx, args.ThreadID)
	if err != nil {
		return err
	}

	for _, event := range events {
		if _, err := aw.publisher.Publish(ctx, queue.TaskDeliverAlertEvent, queue.DeliverAlertEventArgs{EventID: event.ID}); err != nil {
			return err
		}
	}

	return nil
}

func (aw *alertsWorker) deliverAlertEvent(ctx context.Context, env *queue.Envelope) error {
	var args queue.DeliverAlertEventArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}

	// Redelivery of the same event must not double-post while another
	// consumer is mid-flight on it.
	lock, err := aw.locks.Acquire(ctx, fmt.Sprintf("locks:alert-event:%d", args.EventID))
	if errors.Is(err, distributedlock.ErrLockHeld) {
		aw.logger.Debug("alert event delivery already in flight", zap.Int64("event#id", args.EventID))
		return nil
	} else if err != nil {
		return err
	}
	defer func() { _ = lock.Release(ctx) }()

	event, err := aw.eventRepo.GetByID(ctx, args.EventID)
	if err != nil {
		return err
	}

	rule, err := aw.ruleRepo.GetByID(ctx, event.RuleID)
	if err != nil {
		return err
	}

	delivered, err := aw.delivery.Deliver(ctx, event, rule)
	if err != nil {
		return err
	}

	aw.logger.Info("delivered alert event",
		zap.Int64("event#id", event.ID),
		zap.Int64("rule#id", rule.ID),
		zap.Int("event#channels", len(delivered)),
	)

	return nil
}

type alertsConsumer struct {
	*alertsWorker
	tag int
}

func NewAlertsConsumer(aw *alertsWorker, tag int) *alertsConsumer {
	return &alertsConsumer{aw, tag}
}

func (ac *alertsConsumer) Consume(delivery rmq.Delivery) {
	ac.runner.Process(delivery)
}
