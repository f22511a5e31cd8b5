package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter coordinates access to an upstream quota across workers through a
// shared redis counter. When redis is unreachable every process degrades to
// an independent local limiter at the same rate, so the worst aggregate
// overshoot is bounded by the worker count.
type Limiter struct {
	name     string
	capacity int
	period   time.Duration

	client *redis.Client
	statsd statsd.ClientInterface
	logger *zap.Logger

	local *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

func New(logger *zap.Logger, statsd statsd.ClientInterface, client *redis.Client, name string, capacity int, period time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if period <= 0 {
		period = time.Minute
	}

	return &Limiter{
		name:     name,
		capacity: capacity,
		period:   period,
		client:   client,
		statsd:   statsd,
		logger:   logger,
		local:    rate.NewLimiter(rate.Limit(float64(capacity)/period.Seconds()), capacity),
	}
}

func (l *Limiter) windowKey(now time.Time) string {
	window := now.Unix() / int64(l.period/time.Second)
	return fmt.Sprintf("ratelimit:%s:%d", l.name, window)
}

func (l *Limiter) blockedKey() string {
	return fmt.Sprintf("ratelimit:%s:blocked", l.name)
}

// Acquire blocks until a call may proceed. Service-imposed cool-offs are
// always waited out first, whichever store recorded them.
func (l *Limiter) Acquire(ctx context.Context) error {
	tags := []string{fmt.Sprintf("limiter:%s", l.name)}

	for {
		if err := l.waitWhileBlocked(ctx); err != nil {
			return err
		}

		ok, wait, err := l.tryShared(ctx)
		if err != nil {
			_ = l.statsd.Incr("socializer.ratelimit.fallback", tags, 1.0)
			l.logger.Warn("rate limiter falling back to local", zap.Error(err), zap.String("limiter#name", l.name))

			return l.local.Wait(ctx)
		}

		if ok {
			_ = l.statsd.Incr("socializer.ratelimit.acquired", tags, 0.1)
			return nil
		}

		_ = l.statsd.Incr("socializer.ratelimit.throttled", tags, 1.0)
		_ = l.statsd.Histogram("socializer.ratelimit.wait", float64(wait.Milliseconds()), tags, 1.0)

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// BlockFor records a provider cool-off, e.g. from a Retry-After header. The
// deadline is persisted for other workers and mirrored locally in case the
// shared store goes away.
func (l *Limiter) BlockFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	l.mu.Lock()
	if until := time.Now().Add(d); until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.mu.Unlock()

	until := time.Now().Add(d).Unix()
	if err := l.client.SetEX(ctx, l.blockedKey(), strconv.FormatInt(until, 10), d).Err(); err != nil {
		l.logger.Warn("could not persist rate limiter block", zap.Error(err), zap.String("limiter#name", l.name))
		return err
	}

	return nil
}

func (l *Limiter) waitWhileBlocked(ctx context.Context) error {
	for {
		wait := l.localBlockRemaining()

		if shared := l.sharedBlockRemaining(ctx); shared > wait {
			wait = shared
		}

		if wait <= 0 {
			return nil
		}

		_ = l.statsd.Incr("socializer.ratelimit.blocked", []string{fmt.Sprintf("limiter:%s", l.name)}, 1.0)

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) localBlockRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	return time.Until(l.blockedUntil)
}

func (l *Limiter) sharedBlockRemaining(ctx context.Context) time.Duration {
	ttl, err := l.client.PTTL(ctx, l.blockedKey()).Result()
	if err != nil || ttl < 0 {
		return 0
	}

	return ttl
}

// tryShared runs the watched check-and-increment against the current window
// counter. It reports whether a token was taken and, if not, how long to
// wait for the window to roll over.
func (l *Limiter) tryShared(ctx context.Context) (bool, time.Duration, error) {
	now := time.Now()
	key := l.windowKey(now)

	var over bool
	var wait time.Duration

	attempt := func(tx *redis.Tx) error {
		over = false

		n, err := tx.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return err
		}

		if n >= int64(l.capacity) {
			over = true

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				ttl = l.windowRemaining(now)
			}
			wait = ttl

			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, l.period)
			return nil
		})

		return err
	}

	for {
		err := l.client.Watch(ctx, attempt, key)
		if err == redis.TxFailedErr {
			// Another worker raced us on this window, try again.
			continue
		}
		if err != nil {
			return false, 0, err
		}

		return !over, wait, nil
	}
}

func (l *Limiter) windowRemaining(now time.Time) time.Duration {
	periodSecs := int64(l.period / time.Second)
	next := (now.Unix()/periodSecs + 1) * periodSecs

	return time.Until(time.Unix(next, 0))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
