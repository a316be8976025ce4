package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedTokenKeyPrefix = "carecore:trl:jti:"

// RevocationList tracks revoked token ids until the token would have expired
// anyway.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevocationList shares revocations across replicas.
type RedisRevocationList struct {
	client *redis.Client
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

func (r *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedTokenKeyPrefix+jti, "1", ttl).Err()
}

func (r *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	_, err := r.client.Get(ctx, revokedTokenKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LocalRevocationList is the single-process fallback.
type LocalRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewLocalRevocationList() *LocalRevocationList {
	return &LocalRevocationList{revoked: make(map[string]time.Time), now: time.Now}
}

func (l *LocalRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[jti] = l.now().Add(ttl)
	return nil
}

func (l *LocalRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.revoked[jti]
	if !ok {
		return false, nil
	}
	if !l.now().Before(until) {
		delete(l.revoked, jti)
		return false, nil
	}
	return true, nil
}
