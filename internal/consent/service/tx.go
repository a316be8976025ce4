package service

import (
	"context"
	"sync"
	"time"

	dErrors "carecore/pkg/domain-errors"
)

// ConsentStoreTx provides a transactional boundary for consent store mutations.
// Implementations may wrap a database transaction or, in-memory, a coarse lock.
type ConsentStoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// numConsentShards spreads in-memory transactions across independent locks
// keyed by the consent being renewed, so renewals of different consents do
// not contend.
const numConsentShards = 128

// defaultConsentTxTimeout is the maximum duration for a consent transaction.
const defaultConsentTxTimeout = 5 * time.Second

// ShardedConsentTx serializes transactions per source consent over an in-memory
// store.
type ShardedConsentTx struct {
	shards  [numConsentShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedConsentTx wraps store. A zero timeout uses the default.
func NewShardedConsentTx(store Store, timeout time.Duration) *ShardedConsentTx {
	return &ShardedConsentTx{store: store, timeout: timeout}
}

func (t *ShardedConsentTx) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultConsentTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// The lock may have been contended past the deadline.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(t.store)
}

// selectShard picks a shard from the consent key in ctx, or shard 0.
func selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(txShardKeyCtx).(string); ok && key != "" {
		return int(hashConsentString(key) % numConsentShards)
	}
	return 0
}

// hashConsentString is FNV-1a.
func hashConsentString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

type txShardKey struct{}

var txShardKeyCtx = txShardKey{}

// withShardKey marks ctx so the transaction locks the shard of the consent
// identified by key.
func withShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, txShardKeyCtx, key)
}
