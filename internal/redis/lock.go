package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("identity lock not acquired")

// Locker guards the registry find-then-create window for one national
// identity number, so two concurrent bookings for a never-before-seen patient
// cannot both create an external record.
type Locker interface {
	WithIdentityLock(ctx context.Context, nationalID string, fn func(ctx context.Context) error) error
}

type redisIdentityLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdentityLocker creates a locker that uses a per national-identity
// Redis key.
func NewRedisIdentityLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisIdentityLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisIdentityLocker) WithIdentityLock(ctx context.Context, nationalID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:identity:%s", nationalID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire identity lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisIdentityLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release identity lock: %w", err)
	}
	return nil
}
