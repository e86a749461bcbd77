package lexibase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// DistributedLock serializes work across processes sharing one Redis, such
// as two instances starting the same migration.
type DistributedLock struct {
	redis      *redis.Client
	namespace  string
	defaultTTL time.Duration
}

// NewDistributedLock creates a lock manager whose keys live under namespace
func NewDistributedLock(client *redis.Client, namespace string) *DistributedLock {
	return &DistributedLock{
		redis:      client,
		namespace:  namespace,
		defaultTTL: 30 * time.Second,
	}
}

func (l *DistributedLock) key(name string) string {
	return fmt.Sprintf("%s:lock:%s", l.namespace, name)
}

// Lock acquires the named lock or fails with ErrLockHeld. The returned
// release function must be called; it is a no-op once the TTL expired and
// someone else took the lock.
//
//	release, err := lock.Lock(ctx, "migration", 10*time.Minute)
//	if err != nil {
//	    return err
//	}
//	defer release()
func (l *DistributedLock) Lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	key := l.key(name)
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"lock":  name,
			"error": err.Error(),
		})
	}
	if !ok {
		return nil, WithContext(ErrLockHeld, map[string]interface{}{
			"lock": name,
			"ttl":  ttl,
		})
	}

	return func() {
		// The caller's context may already be done
		l.redis.Eval(context.Background(), releaseScript, []string{key}, token)
	}, nil
}

// LockWithRetry retries Lock with exponential backoff while the lock is held
func (l *DistributedLock) LockWithRetry(ctx context.Context, name string, ttl time.Duration, attempts int, backoff time.Duration) (func(), error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		release, err := l.Lock(ctx, name, ttl)
		if err == nil {
			return release, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(int64(1)<<uint(i))):
			}
		}
	}
	return nil, fmt.Errorf("failed to acquire lock %s after %d attempts: %w", name, attempts, lastErr)
}
