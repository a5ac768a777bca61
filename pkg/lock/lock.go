package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-missions/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is already held")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Locker is a single-instance redis lock. The owner token guarantees only
// the holder can release it.
type Locker struct {
	client redis.UniversalClient
	key    string
	owner  string
}

func NewLocker(client redis.UniversalClient, name, owner string) *Locker {
	return &Locker{
		client: client,
		key:    rediskey.BuildLockKey(name),
		owner:  owner,
	}
}

func (l *Locker) Key() string { return l.key }

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed for key %s: lock expired or held by another owner", l.key)
	}
	return nil
}
