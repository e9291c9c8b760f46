package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when another owner currently holds the key.
var ErrLockHeld = errors.New("lock: held by another owner")

// Release gives up a held lock. Releasing after expiry, or after another
// owner took the key over, is a no-op.
type Release func(ctx context.Context) error

// Locker grants short-lived exclusive ownership of a key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

const defaultTTL = 30 * time.Second

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}
