package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/pkg/domain"
)

func TestSelectShardFollowsConsentKey(t *testing.T) {
	id := domain.NewConsentID()

	assert.Equal(t, 0, selectShard(context.Background()))
	assert.Equal(t,
		int(hashConsentString(id.String())%numConsentShards),
		selectShard(withShardKey(context.Background(), id.String())),
	)
	assert.Equal(t,
		selectShard(withShardKey(context.Background(), id.String())),
		selectShard(withShardKey(context.Background(), id.String())),
	)
}

func TestRunInTxLocksOnlyTheConsentShard(t *testing.T) {
	tx := NewShardedConsentTx(nil, time.Second)

	a, b := domain.NewConsentID(), domain.NewConsentID()
	for selectShard(withShardKey(context.Background(), b.String())) == selectShard(withShardKey(context.Background(), a.String())) {
		b = domain.NewConsentID()
	}

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tx.RunInTx(withShardKey(context.Background(), a.String()), func(Store) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ran := false
	err := tx.RunInTx(withShardKey(context.Background(), b.String()), func(Store) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "a different consent must not wait on a held shard")

	close(release)
	require.NoError(t, <-done)
}
