package distributedlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/distributedlock"
	"github.com/therealityreport/socializer-backend/internal/testhelper"
)

func TestDistributedLock_Acquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testhelper.NewTestRedis(t)

	d := distributedlock.New(client, 10*time.Second)

	lock, err := d.Acquire(ctx, "locks:alert-event:1")
	require.NoError(t, err)

	_, err = d.Acquire(ctx, "locks:alert-event:1")
	assert.ErrorIs(t, err, distributedlock.ErrLockHeld)

	require.NoError(t, lock.Release(ctx))

	_, err = d.Acquire(ctx, "locks:alert-event:1")
	assert.NoError(t, err)
}

func TestDistributedLock_ReleaseAfterExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, client := testhelper.NewTestRedis(t)

	d := distributedlock.New(client, time.Second)

	lock, err := d.Acquire(ctx, "locks:alert-event:2")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	assert.ErrorIs(t, lock.Release(ctx), distributedlock.ErrLockLost)
}

func TestDistributedLock_WaitAcquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testhelper.NewTestRedis(t)

	d := distributedlock.New(client, 10*time.Second)

	lock, err := d.Acquire(ctx, "locks:alert-event:3")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = lock.Release(ctx)
	}()

	waited, err := d.WaitAcquire(ctx, "locks:alert-event:3", 5*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, waited)
}

func TestDistributedLock_WaitAcquireTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := testhelper.NewTestRedis(t)

	d := distributedlock.New(client, 10*time.Second)

	_, err := d.Acquire(ctx, "locks:alert-event:4")
	require.NoError(t, err)

	_, err = d.WaitAcquire(ctx, "locks:alert-event:4", 200*time.Millisecond)
	assert.ErrorIs(t, err, distributedlock.ErrLockWaitTimeout)
}
