package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpbridge/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return key
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := store.NewMemoryStore()
	s.SetClock(clock.Now)

	c, err := NewCipher(testKey(t), []byte("0123456789ab"))
	require.NoError(t, err)

	m := NewManager(s, Config{TTL: time.Hour, Cipher: c, Now: clock.Now})
	return m, s, clock
}

func TestManager_CreateIsAnonymous(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Len(t, id, 32)

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, StateAnonymous, s.State)
	assert.False(t, s.Authenticated())
	assert.Nil(t, s.Credentials)
	assert.Equal(t, clock.Now(), s.LastActive)
	assert.Equal(t, clock.Now().Add(time.Hour), s.ExpiresAt)
}

func TestManager_CreateUniqueIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := m.Create(context.Background())
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestManager_TouchExtendsWindow(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	s, err := m.Touch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), s.LastActive)
	assert.Equal(t, clock.Now().Add(time.Hour), s.ExpiresAt)

	// 90 minutes after creation, alive only because of the touch
	clock.Advance(45 * time.Minute)
	_, err = m.Get(ctx, id)
	require.NoError(t, err)
}

func TestManager_UntouchedSessionExpires(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Touch(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_GetReportsExpiredBeforeEviction(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore() // real clock: the store has not evicted yet
	m := NewManager(s, Config{TTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Touch(ctx, id)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_HydrateRoundTrip(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	creds := []byte(`{"access_token":"upstream-secret","token_type":"Bearer"}`)
	require.NoError(t, m.Hydrate(ctx, id, creds))

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, got.State)
	assert.Equal(t, creds, got.Credentials)

	raw, err := s.Get(ctx, store.SessionKey(id))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "upstream-secret", "credentials must be encrypted at rest")
}

func TestManager_HydrateOverwritesAndNeverDowngrades(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Hydrate(ctx, id, []byte("first")))
	require.NoError(t, m.Hydrate(ctx, id, []byte("second")))

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Minute)
		s, err := m.Touch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateAuthenticated, s.State)
		assert.Equal(t, []byte("second"), s.Credentials)
	}
}

func TestManager_HydrateErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.Hydrate(ctx, "missing", []byte("x")), ErrNotFound)

	id, err := m.Create(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Hydrate(ctx, id, nil), ErrNoCredentials)

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateAnonymous, s.State)
}

func TestManager_HydrateAfterDestroyDoesNotResurrect(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, id))
	assert.ErrorIs(t, m.Hydrate(ctx, id, []byte("creds")), ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, id))
	require.NoError(t, m.Destroy(ctx, id))

	ok, err := m.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_CorruptedCredentialsForceDestroy(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Hydrate(ctx, id, []byte("creds")))

	// a manager with a different key cannot open the record
	other, err := NewCipher(testKey(t), nil)
	require.NoError(t, err)
	m2 := NewManager(s, Config{TTL: time.Hour, Cipher: other, Now: m.now})

	_, err = m2.Get(ctx, id)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := m.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "corrupted record must be destroyed")
}

func TestManager_UndecodableRecordForceDestroy(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, store.SessionKey("bad"), []byte("{not json"), time.Hour))

	_, err := m.Touch(ctx, "bad")
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = s.Get(ctx, store.SessionKey("bad"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_PersistedShape(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.Create(ctx)
	require.NoError(t, err)

	raw, err := s.Get(ctx, store.SessionKey(id))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, k := range []string{"id", "state", "connected_at", "last_active", "expires_at"} {
		assert.Contains(t, fields, k)
	}
	assert.NotContains(t, fields, "credentials")
}

func TestManager_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := NewManager(store.NewRedisStoreWithClient(client, "mcp:"), Config{TTL: time.Hour})
	ctx := context.Background()

	id, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("mcp:session:"+id))

	mr.FastForward(30 * time.Minute)
	_, err = m.Touch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("mcp:session:"+id), "touch re-arms the TTL")

	require.NoError(t, m.Hydrate(ctx, id, []byte("creds")))
	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.Authenticated())

	mr.FastForward(time.Hour + time.Second)
	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_StoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := NewManager(store.NewRedisStoreWithClient(client, ""), Config{})

	mr.SetError("ERR simulated outage")
	_, err := m.Create(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = m.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}
