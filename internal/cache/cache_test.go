package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

const prefix = "pharmadesk:"

func newTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, prefix, time.Minute), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "tracking:DO-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "tracking:DO-1", []byte(`{"status":"delivered"}`), 0))
	got, err := store.Get(ctx, "tracking:DO-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"delivered"}`, string(got))
	assert.Equal(t, time.Minute, mr.TTL(prefix+"tracking:DO-1"))
	assert.False(t, mr.Exists("tracking:DO-1"))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "tracking:DO-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreDeleteAndEmptyKey(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Second))
	require.NoError(t, store.Delete(ctx, "k"))
	assert.False(t, mr.Exists(prefix+"k"))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.Error(t, store.Set(ctx, "", []byte("v"), time.Second))
	assert.NoError(t, store.Delete(ctx, ""))
}

func TestNewStoreByDriver(t *testing.T) {
	mr := miniredis.RunT(t)
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{Cache: config.Cache{Driver: "redis", KeyPrefix: "test:", DefaultTTL: time.Minute, Redis: config.Redis{Addr: mr.Addr()}}}

	store, err := NewStore(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart()
	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), 0))
	assert.True(t, mr.Exists("test:k"))
	lc.RequireStop()

	store, err = NewStore(fxtest.NewLifecycle(t), config.Config{Cache: config.Cache{Driver: "noop"}}, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = NewStore(fxtest.NewLifecycle(t), config.Config{Cache: config.Cache{Driver: "memcached"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestReadThroughLoadsOnceAndCaches(t *testing.T) {
	store, _ := newTestStore(t)
	rt := NewReadThrough(store, time.Minute, zap.NewNop())
	ctx := context.Background()

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		loads.Add(1)
		<-release
		return []byte(`{"status":"delivered"}`), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := rt.Get(ctx, "tracking:DO-7", load)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"status":"delivered"}`, string(got))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())

	got, hit, err := rt.Get(ctx, "tracking:DO-7", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"status":"delivered"}`, string(got))
	assert.Equal(t, int32(1), loads.Load())
}

func TestReadThroughDoesNotCacheFailures(t *testing.T) {
	store, mr := newTestStore(t)
	rt := NewReadThrough(store, time.Minute, nil)
	ctx := context.Background()

	_, hit, err := rt.Get(ctx, "tracking:DO-8", func(context.Context) ([]byte, error) {
		return nil, errors.New("tracker down")
	})
	assert.ErrorContains(t, err, "tracker down")
	assert.False(t, hit)
	assert.False(t, mr.Exists(prefix+"tracking:DO-8"))
}

func TestReadThroughSurvivesStoreOutage(t *testing.T) {
	store, mr := newTestStore(t)
	rt := NewReadThrough(store, time.Minute, zap.NewNop())
	mr.Close()

	got, hit, err := rt.Get(context.Background(), "tracking:DO-9", func(context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, `{}`, string(got))
}

func TestReadThroughWithoutStore(t *testing.T) {
	rt := NewReadThrough(nil, time.Minute, nil)
	var loads int
	for range 2 {
		_, hit, err := rt.Get(context.Background(), "k", func(context.Context) ([]byte, error) {
			loads++
			return []byte("v"), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 2, loads)
}
