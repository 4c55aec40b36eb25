package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) (*AddressLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	lock := NewAddressLock(Wrap(rdb), ttl)
	lock.pollInterval = 5 * time.Millisecond
	return lock, mr
}

const addr = "0xAbC0000000000000000000000000000000000001"

func TestAddressLock_Exclusive(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, addr)
	require.NoError(t, err)

	_, ok, err := lock.TryAcquire(ctx, addr)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	// Keys are case-insensitive.
	_, ok, err = lock.TryAcquire(ctx, "0xabc0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	_, ok, err = lock.TryAcquire(ctx, addr)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddressLock_AcquireWaitsForRelease(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Acquire(ctx, addr)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestAddressLock_AcquireHonoursContext(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)

	_, ok, err := lock.TryAcquire(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = lock.Acquire(ctx, addr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAddressLock_ReleaseOnlyByOwner(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	ctx := context.Background()

	token, ok, err := lock.TryAcquire(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)

	// Expire and let another owner in.
	mr.FastForward(2 * time.Second)
	other, ok, err := lock.TryAcquire(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, lock.Release(ctx, addr, token), ErrLockLost)
	assert.NoError(t, lock.Release(ctx, addr, other))
}
