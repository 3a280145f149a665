package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestTryAcquireIsExclusive(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewWithClient(client, "", time.Minute)

	first, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, mr.Exists(DefaultKey))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKey))

	second, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists(DefaultKey))

	third, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewWithClient(client, "runs", time.Second)

	lease, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)

	// The lease expires and another process takes the key.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("runs", "someone-else"))

	require.NoError(t, lease.Release(ctx))
	got, err := mr.Get("runs")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)

	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrNotHeld)
}

func TestExtend(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewWithClient(client, "runs", time.Second)

	lease, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Extend(ctx, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("runs"))
}

func TestNewPingsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	lock, err := New(context.Background(), Config{Addr: mr.Addr(), Key: "k"})
	require.NoError(t, err)
	defer lock.Close()
	assert.Equal(t, 30*time.Minute, lock.ttl)

	_, err = New(context.Background(), Config{})
	assert.ErrorContains(t, err, "address is required")
}

func TestNilLeaseReleaseIsNoop(t *testing.T) {
	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}

func TestGuard(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewWithClient(client, "", 0)

	release, held, err := lock.Guard(ctx)
	require.NoError(t, err)
	require.True(t, held)

	_, held, err = lock.Guard(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(DefaultKey))
}

func TestGuardRenewsLease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewWithClient(client, "", 300*time.Millisecond)

	release, held, err := lock.Guard(ctx)
	require.NoError(t, err)
	require.True(t, held)

	mr.SetTTL(DefaultKey, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(DefaultKey) == 300*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(DefaultKey))
	require.NoError(t, release(ctx))
}

func TestGuardReportsLostLease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewWithClient(client, "", 150*time.Millisecond)

	release, held, err := lock.Guard(ctx)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, mr.Set(DefaultKey, "someone-else"))
	time.Sleep(200 * time.Millisecond)

	err = release(ctx)
	assert.ErrorIs(t, err, ErrNotHeld)
	got, _ := mr.Get(DefaultKey)
	assert.Equal(t, "someone-else", got)
}
