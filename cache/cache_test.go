package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/gigview/offline-cache"
	"github.com/gigview/offline-cache/store"
	"github.com/gigview/offline-cache/store/memstore"
)

type event struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// testClock is an adjustable clock for expiry tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T) (*Cache, *memstore.MemStore, *testClock) {
	t.Helper()
	ms := memstore.New()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(ms, WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, ms, clock
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()

	t.Run("Set then Get returns the value", func(t *testing.T) {
		c, _, _ := newTestCache(t)

		c.Set(ctx, "events", []event{{ID: 1, Name: "gig"}}, 30*time.Minute)

		var got []event
		require.True(t, c.Get(ctx, "events", &got))
		assert.Equal(t, []event{{ID: 1, Name: "gig"}}, got)
	})

	t.Run("Get of missing key returns false", func(t *testing.T) {
		c, _, _ := newTestCache(t)

		var got []event
		assert.False(t, c.Get(ctx, "events", &got))
	})

	t.Run("Get after TTL elapses returns false and removes the entry", func(t *testing.T) {
		c, ms, clock := newTestCache(t)

		c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)
		clock.Advance(31 * time.Minute)

		var got []event
		require.False(t, c.Get(ctx, "events", &got))

		// Strict read deletes the expired entry from the durable store.
		_, err := ms.Read(ctx, "events")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Set replaces the prior entry wholesale", func(t *testing.T) {
		c, _, _ := newTestCache(t)

		c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)
		c.Set(ctx, "events", []event{{ID: 2}}, 30*time.Minute)

		var got []event
		require.True(t, c.Get(ctx, "events", &got))
		assert.Equal(t, []event{{ID: 2}}, got)
	})

	t.Run("Set swallows durable store write errors", func(t *testing.T) {
		c, ms, _ := newTestCache(t)

		ms.FailWrites(errors.New("disk full"))
		c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)

		ms.FailWrites(nil)
		var got []event
		assert.False(t, c.Get(ctx, "events", &got))
	})
}

func TestCache_GetStale(t *testing.T) {
	ctx := context.Background()

	t.Run("before expiry returns value with expired=false", func(t *testing.T) {
		c, _, _ := newTestCache(t)

		c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)

		var got []event
		ok, expired := c.GetStale(ctx, "events", &got)
		require.True(t, ok)
		assert.False(t, expired)
		assert.Equal(t, []event{{ID: 1}}, got)
	})

	t.Run("after expiry still returns the original value flagged stale", func(t *testing.T) {
		c, ms, clock := newTestCache(t)

		c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)
		clock.Advance(2 * time.Hour)

		var got []event
		ok, expired := c.GetStale(ctx, "events", &got)
		require.True(t, ok)
		assert.True(t, expired)
		assert.Equal(t, []event{{ID: 1}}, got)

		// Permissive read never deletes.
		_, err := ms.Read(ctx, "events")
		require.NoError(t, err)
	})

	t.Run("missing key returns false", func(t *testing.T) {
		c, _, _ := newTestCache(t)

		var got []event
		ok, expired := c.GetStale(ctx, "events", &got)
		assert.False(t, ok)
		assert.False(t, expired)
	})
}

func TestCache_CorruptionTreatedAsMiss(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed envelope", func(t *testing.T) {
		c, ms, _ := newTestCache(t)

		require.NoError(t, ms.Write(ctx, "events", []byte("not json")))

		var got []event
		assert.False(t, c.Get(ctx, "events", &got))
	})

	t.Run("digest mismatch", func(t *testing.T) {
		c, ms, clock := newTestCache(t)

		env := Envelope{
			Payload:   []byte(`[{"id":1}]`),
			Digest:    offlinecache.DigestBytes([]byte("something else")),
			Size:      10,
			WrittenAt: clock.Now(),
			ExpiresAt: clock.Now().Add(time.Hour),
		}
		blob, err := json.Marshal(&env)
		require.NoError(t, err)
		require.NoError(t, ms.Write(ctx, "events", blob))

		var got []event
		assert.False(t, c.Get(ctx, "events", &got))
	})

	t.Run("storage read error", func(t *testing.T) {
		c, ms, _ := newTestCache(t)

		c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)
		ms.FailReads(errors.New("io error"))

		var got []event
		assert.False(t, c.Get(ctx, "events", &got))
	})
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c, ms, _ := newTestCache(t)

	c.Set(ctx, "events", []event{{ID: 1}}, 30*time.Minute)
	c.Set(ctx, "featured_events", []event{{ID: 2}}, 30*time.Minute)
	require.NoError(t, ms.Write(ctx, "offline_actions", []byte("[]")))
	require.NoError(t, c.SetLastSync(ctx, time.Now()))

	require.NoError(t, c.Clear(ctx, "events", "featured_events"))

	var got []event
	assert.False(t, c.Get(ctx, "events", &got))
	assert.False(t, c.Get(ctx, "featured_events", &got))

	// Unrelated records survive a cache clear.
	_, err := ms.Read(ctx, "offline_actions")
	require.NoError(t, err)
	_, ok := c.LastSync(ctx)
	assert.True(t, ok)
}

func TestCache_Remove(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	c.Set(ctx, "user_tickets:42", []event{{ID: 1}}, time.Hour)
	require.NoError(t, c.Remove(ctx, "user_tickets:42"))

	var got []event
	assert.False(t, c.Get(ctx, "user_tickets:42", &got))
}

func TestCache_LastSync(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	_, ok := c.LastSync(ctx)
	require.False(t, ok)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, c.SetLastSync(ctx, at))

	got, ok := c.LastSync(ctx)
	require.True(t, ok)
	assert.True(t, got.Equal(at))
}

func TestCache_EnvelopeInvariant(t *testing.T) {
	ctx := context.Background()
	c, ms, clock := newTestCache(t)

	c.Set(ctx, "events", []event{{ID: 1}}, 15*time.Minute)

	blob, err := ms.Read(ctx, "events")
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	assert.True(t, env.ExpiresAt.After(env.WrittenAt))
	assert.True(t, env.WrittenAt.Equal(clock.Now()))
}
