package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness bundles a Store with a way to move its clock forward.
type harness struct {
	store   Store
	advance func(time.Duration)
}

func newMemoryHarness(t *testing.T) harness {
	t.Helper()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	s := NewMemoryStore()
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	return harness{
		store: s,
		advance: func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		},
	}
}

func newRedisHarness(t *testing.T) (harness, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return harness{
		store:   NewRedisStoreWithClient(client, "test:"),
		advance: m.FastForward,
	}, m
}

func forEachStore(t *testing.T, fn func(t *testing.T, h harness)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newMemoryHarness(t))
	})
	t.Run("redis", func(t *testing.T) {
		h, _ := newRedisHarness(t)
		fn(t, h)
	})
}

func TestStore_SetGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()

		_, err := h.store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, h.store.Set(ctx, "k", []byte("v1"), time.Minute))
		got, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, h.store.Set(ctx, "k", []byte("v2"), time.Minute))
		got, err = h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})
}

func TestStore_TTLExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), 10*time.Second))

		h.advance(9 * time.Second)
		_, err := h.store.Get(ctx, "k")
		require.NoError(t, err)

		h.advance(2 * time.Second)
		_, err = h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SetNX(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()

		ok, err := h.store.SetNX(ctx, "k", []byte("first"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.store.SetNX(ctx, "k", []byte("second"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})
}

func TestStore_TakeIsSingleUse(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "code", []byte("payload"), time.Minute))

		got, err := h.store.Take(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), got)

		_, err = h.store.Take(ctx, "code")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ConcurrentTake(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "code", []byte("payload"), time.Minute))

		const workers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.store.Take(ctx, "code"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestStore_Update(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()

		called := false
		err := h.store.Update(ctx, "missing", func(cur []byte) ([]byte, time.Duration, error) {
			called = true
			return cur, 0, nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, called, "update must not run for a missing key")

		require.NoError(t, h.store.Set(ctx, "k", []byte("a"), 10*time.Second))
		err = h.store.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
			return append(cur, 'b'), time.Minute, nil
		})
		require.NoError(t, err)

		got, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("ab"), got)

		// the new TTL replaced the old 10s one
		h.advance(30 * time.Second)
		_, err = h.store.Get(ctx, "k")
		require.NoError(t, err)
	})
}

func TestStore_UpdateKeepsTTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "k", []byte("a"), 10*time.Second))

		err := h.store.Update(ctx, "k", func([]byte) ([]byte, time.Duration, error) {
			return []byte("b"), 0, nil
		})
		require.NoError(t, err)

		h.advance(11 * time.Second)
		_, err = h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpdateCallerError(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "k", []byte("a"), time.Minute))

		boom := errors.New("boom")
		err := h.store.Update(ctx, "k", func([]byte) ([]byte, time.Duration, error) {
			return nil, 0, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrUnavailable)

		got, err := h.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), got)
	})
}

func TestStore_UpdateCallerErrorWrappingNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "k", []byte("a"), time.Minute))

		wrapped := fmt.Errorf("record vanished: %w", ErrNotFound)
		err := h.store.Update(ctx, "k", func([]byte) ([]byte, time.Duration, error) {
			return nil, 0, wrapped
		})
		assert.Same(t, wrapped, err)
		assert.EqualError(t, err, "record vanished: store: key not found")
	})
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, h.store.Delete(ctx, "k"))
		require.NoError(t, h.store.Delete(ctx, "k"))

		_, err := h.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	h, m := newRedisHarness(t)
	require.NoError(t, h.store.Set(context.Background(), SessionKey("abc"), []byte("v"), time.Minute))

	assert.True(t, m.Exists("test:session:abc"))
	assert.Equal(t, time.Minute, m.TTL("test:session:abc"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	h, m := newRedisHarness(t)
	ctx := context.Background()
	m.SetError("ERR simulated outage")

	assert.ErrorIs(t, h.store.Ping(ctx), ErrUnavailable)

	_, err := h.store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = h.store.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	assert.Error(t, err)

	_, err = NewRedisStore(RedisConfig{Addr: "localhost:6379", DB: -1})
	assert.Error(t, err)

	s, err := NewRedisStore(RedisConfig{Addr: "localhost:6379", KeyPrefix: DefaultKeyPrefix})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestMemoryStore_Len(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, h.store.Set(ctx, "b", []byte("2"), 0))

	ms := h.store.(*MemoryStore)
	assert.Equal(t, 2, ms.Len())
	h.advance(2 * time.Second)
	assert.Equal(t, 1, ms.Len())
}

type recordedOp struct {
	op, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordStoreOperation(_ context.Context, op, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op, status})
}

func TestInstrument(t *testing.T) {
	rec := &fakeRecorder{}
	s := Instrument(NewMemoryStore(), rec)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	_, _ = s.Get(ctx, "missing")
	_, _ = s.Take(ctx, "k")

	assert.Equal(t, []recordedOp{
		{"set", StatusSuccess},
		{"get", StatusNotFound},
		{"take", StatusSuccess},
	}, rec.ops)

	plain := NewMemoryStore()
	assert.Same(t, Store(plain), Instrument(plain, nil))
}
