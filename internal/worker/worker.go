package worker

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/config"
)

const pollDuration = 100 * time.Millisecond

type NewWorkerFn func(logger *zap.Logger, statsd statsd.ClientInterface, db *pgxpool.Pool, redis *redis.Client, queue rmq.Connection, cfg config.Settings, consumers int) (Worker, error)

type Worker interface {
	Start() error
	Stop()
}
