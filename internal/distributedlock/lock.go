package distributedlock

import (
	"context"
	"fmt"
)

// Lock is a single acquisition of a key. The token fences Release so a
// holder whose TTL already fired cannot delete a successor's hold.
type Lock struct {
	parent *DistributedLock
	key    string
	token  string
}

func (l *Lock) Release(ctx context.Context) error {
	topic := fmt.Sprintf(releaseTopicFormat, l.key)

	res, err := releaseScript.Run(ctx, l.parent.client, []string{l.key, topic}, l.token).Result()
	if err != nil {
		return err
	}

	if n, ok := res.(int64); !ok || n == 0 {
		return ErrLockLost
	}

	return nil
}
