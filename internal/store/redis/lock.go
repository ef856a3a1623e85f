package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

const (
	// DefaultLockTTL is the lifetime of a lock that is no longer refreshed
	DefaultLockTTL = 2 * time.Minute
)

var (
	// ErrLockNotAcquired is returned when another process is harvesting the source.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or was taken over.
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Locker hands out per-source locks backed by Redis SET NX.
// A held lock is refreshed in the background until released.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewLocker creates a Locker. A non-positive ttl uses DefaultLockTTL.
func NewLocker(client *redis.Client, ttl time.Duration, log logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{client: client, ttl: ttl, logger: log}
}

// Acquire takes the lock for sourceID without waiting. The returned function
// releases it; calling it more than once is harmless.
func (l *Locker) Acquire(ctx context.Context, sourceID int64) (func(context.Context) error, error) {
	key := SourceLockKey(sourceID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.refresh(key, token, stop)
	}()

	var once sync.Once
	var releaseErr error
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
			releaseErr = l.unlock(ctx, key, token)
		})
		return releaseErr
	}
	return release, nil
}

func (l *Locker) refresh(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend source lock",
					logger.String("key", key),
					logger.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Error("source lock lost", logger.String("key", key))
				return
			}
		}
	}
}

func (l *Locker) unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, key)
	}
	return nil
}

// Running returns the ids of the sources whose lock is currently held by
// any process, in ascending order.
func (l *Locker) Running(ctx context.Context) ([]int64, error) {
	var ids []int64
	iter := l.client.Scan(ctx, 0, KeyPrefixSourceLock+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := ExtractSourceID(iter.Val())
		if err != nil {
			l.logger.Warn("ignoring malformed lock key", logger.String("key", iter.Val()))
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan locks: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}
