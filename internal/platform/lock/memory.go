package lock

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker serialises owners inside a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

// NewMemoryLocker returns an in-process Locker. A nil clock uses time.Now.
func NewMemoryLocker(clock func() time.Time) *MemoryLocker {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: clock}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return nil, ErrLockHeld
	}
	token := ulid.Make().String()
	l.held[key] = memoryEntry{token: token, expires: now.Add(normaliseTTL(ttl))}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if entry, ok := l.held[key]; ok && entry.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
