package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExpirer struct {
	calls atomic.Int32
	count int
	err   error
}

func (e *stubExpirer) ExpireDue(context.Context, time.Time) (int, error) {
	e.calls.Add(1)
	return e.count, e.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLeaseGrantsOneHolder(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lease := NewRedisLease(client, "replica-"+string(rune('a'+i)))
			ok, err := lease.Acquire(ctx, DefaultLeaseKey, time.Minute)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())

	ttl := mr.TTL(DefaultLeaseKey)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	ok, err := NewRedisLease(client, "late").Acquire(ctx, DefaultLeaseKey, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease should be free once the ttl lapses")
	got, err := mr.Get(DefaultLeaseKey)
	require.NoError(t, err)
	assert.Equal(t, "late", got)
}

func TestRedisLeaseUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisLease(client, "a").Acquire(context.Background(), DefaultLeaseKey, time.Second)
	assert.Error(t, err)
}

func TestLocalLease(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lease := NewLocalLease()
	lease.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := lease.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = lease.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	ok, _ = lease.Acquire(ctx, "other", time.Minute)
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute)
	ok, _ = lease.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestNewValidates(t *testing.T) {
	lease := NewLocalLease()
	exp := &stubExpirer{}

	_, err := New(nil, lease, time.Minute, time.Second)
	assert.Error(t, err)
	_, err = New(exp, nil, time.Minute, time.Second)
	assert.Error(t, err)
	_, err = New(exp, lease, 0, time.Second)
	assert.Error(t, err)
	_, err = New(exp, lease, time.Minute, 2*time.Minute)
	assert.Error(t, err)
}

func TestRunOnceOnlyOneReplicaSweeps(t *testing.T) {
	_, client := newRedis(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	first := &stubExpirer{count: 3}
	second := &stubExpirer{count: 3}
	a, err := New(first, NewRedisLease(client, "a"), time.Minute, 50*time.Second, WithMetrics(metrics))
	require.NoError(t, err)
	b, err := New(second, NewRedisLease(client, "b"), time.Minute, 50*time.Second, WithMetrics(metrics))
	require.NoError(t, err)

	ctx := context.Background()
	expired, swept, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, swept)
	assert.Equal(t, 3, expired)

	_, swept, err = b.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, swept)

	assert.Equal(t, int32(1), first.calls.Load())
	assert.Zero(t, second.calls.Load())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.Runs.WithLabelValues(outcomeSwept)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.Runs.WithLabelValues(outcomeSkipped)))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.Expired))
}

func TestRunOnceReportsExpirerFailure(t *testing.T) {
	exp := &stubExpirer{err: errors.New("store down")}
	s, err := New(exp, NewLocalLease(), time.Minute, time.Minute)
	require.NoError(t, err)

	_, swept, err := s.RunOnce(context.Background())
	assert.True(t, swept)
	assert.EqualError(t, err, "store down")
}

func TestRunStopsOnCancel(t *testing.T) {
	exp := &stubExpirer{}
	s, err := New(exp, NewLocalLease(), 10*time.Millisecond, 2*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
