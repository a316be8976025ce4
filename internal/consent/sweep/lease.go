package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease grants at most one holder per key until the ttl lapses.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLease acquires with SET NX PX so replicas sharing one Redis agree on
// a single holder.
type RedisLease struct {
	client *redis.Client
	holder string
}

// NewRedisLease records holder as the key's value to identify the replica.
func NewRedisLease(client *redis.Client, holder string) *RedisLease {
	return &RedisLease{client: client, holder: holder}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// LocalLease is the single-process fallback when Redis is not configured.
type LocalLease struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{leases: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLease) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, held := l.leases[key]; held && now.Before(until) {
		return false, nil
	}
	l.leases[key] = now.Add(ttl)
	return true, nil
}
