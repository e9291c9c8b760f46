package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

type redisCommander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker shares locks between replicas through SET NX PX.
type RedisLocker struct {
	client redisCommander
	prefix string
}

// NewRedisLocker builds a RedisLocker. Keys are stored under prefix.
func NewRedisLocker(client redisCommander, prefix string) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is required")
	}
	return &RedisLocker{client: client, prefix: prefix}, nil
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	redisKey := l.prefix + key
	token := ulid.Make().String()

	ok, err := l.client.SetNX(ctx, redisKey, token, normaliseTTL(ttl)).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if _, err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Result(); err != nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}, nil
}
