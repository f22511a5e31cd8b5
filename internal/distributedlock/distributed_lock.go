package distributedlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
)

const (
	releaseTopicFormat = "locks:released:%s"
	retryInterval      = 50 * time.Millisecond
)

// releaseScript deletes the key only while the caller still owns it,
// then wakes any waiters subscribed to the release topic.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("PUBLISH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// DistributedLock hands out redis-backed mutexes with a fixed TTL so a
// crashed holder cannot wedge a key forever.
type DistributedLock struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *DistributedLock {
	return &DistributedLock{client: client, ttl: ttl}
}

func (d *DistributedLock) tryAcquire(ctx context.Context, key, token string) error {
	ok, err := d.client.SetNX(ctx, key, token, d.ttl).Result()
	if err != nil {
		return err
	}

	if !ok {
		return ErrLockHeld
	}

	return nil
}

// Acquire takes the lock or fails immediately with ErrLockHeld.
func (d *DistributedLock) Acquire(ctx context.Context, key string) (*Lock, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	if err := d.tryAcquire(ctx, key, token.String()); err != nil {
		return nil, err
	}

	return &Lock{parent: d, key: key, token: token.String()}, nil
}

// WaitAcquire keeps trying until the holder releases, the wait elapses,
// or ctx is done. A holder whose TTL fires publishes nothing, so waiters
// poll on an interval as well as listening for the release.
func (d *DistributedLock) WaitAcquire(ctx context.Context, key string, wait time.Duration) (*Lock, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	switch err := d.tryAcquire(ctx, key, token.String()); {
	case err == nil:
		return &Lock{parent: d, key: key, token: token.String()}, nil
	case !errors.Is(err, ErrLockHeld):
		return nil, err
	}

	pubsub := d.client.Subscribe(ctx, fmt.Sprintf(releaseTopicFormat, key))
	defer func() { _ = pubsub.Close() }()

	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	timeout := time.After(wait)

	for {
		select {
		case <-timeout:
			return nil, ErrLockWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-pubsub.Channel():
		case <-retry.C:
		}

		switch err := d.tryAcquire(ctx, key, token.String()); {
		case err == nil:
			return &Lock{parent: d, key: key, token: token.String()}, nil
		case !errors.Is(err, ErrLockHeld):
			return nil, err
		}
	}
}
