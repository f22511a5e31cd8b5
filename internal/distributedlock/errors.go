package distributedlock

import "errors"

var (
	ErrLockHeld        = errors.New("lock held by another owner")
	ErrLockWaitTimeout = errors.New("timed out waiting for lock")
	ErrLockLost        = errors.New("lock expired or was taken over")
)
