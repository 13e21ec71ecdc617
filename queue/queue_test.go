package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigview/offline-cache/store/memstore"
)

type favoritePayload struct {
	EventID string `json:"event_id"`
}

// recorder collects dispatched actions in order.
type recorder struct {
	mu      sync.Mutex
	actions []Action
}

func (r *recorder) handler(err error) Handler {
	return func(_ context.Context, a Action) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			return err
		}
		r.actions = append(r.actions, a)
		return nil
	}
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.actions))
	for _, a := range r.actions {
		ids = append(ids, a.ID)
	}
	return ids
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *memstore.MemStore) {
	t.Helper()
	ms := memstore.New()
	opts = append([]Option{WithMaxTries(1), WithDispatchTimeout(time.Second)}, opts...)
	return New(ms, opts...), ms
}

func TestQueue_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns unique ids and preserves FIFO order", func(t *testing.T) {
		q, _ := newTestQueue(t)

		a, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e1"})
		require.NoError(t, err)
		b, err := q.Enqueue(ctx, KindComment, map[string]string{"text": "great show"})
		require.NoError(t, err)

		assert.NotEmpty(t, a.ID)
		assert.NotEqual(t, a.ID, b.ID)

		actions := q.Actions(ctx)
		require.Len(t, actions, 2)
		assert.Equal(t, a.ID, actions[0].ID)
		assert.Equal(t, b.ID, actions[1].ID)
	})

	t.Run("persists across queue instances", func(t *testing.T) {
		ms := memstore.New()
		q1 := New(ms)
		_, err := q1.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e1"})
		require.NoError(t, err)

		q2 := New(ms)
		assert.Equal(t, 1, q2.Len(ctx))
	})

	t.Run("payload survives round-trip opaquely", func(t *testing.T) {
		q, _ := newTestQueue(t)

		_, err := q.Enqueue(ctx, KindComment, map[string]any{"text": "encore", "rating": 5})
		require.NoError(t, err)

		actions := q.Actions(ctx)
		require.Len(t, actions, 1)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(actions[0].Payload, &payload))
		assert.Equal(t, "encore", payload["text"])
	})
}

func TestQueue_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches in enqueue order and empties the queue", func(t *testing.T) {
		q, _ := newTestQueue(t)
		rec := &recorder{}
		q.Register(KindFavorite, rec.handler(nil))

		a, _ := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "a"})
		b, _ := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "b"})
		c, _ := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "c"})

		res, err := q.Drain(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, res.Dispatched)
		assert.Equal(t, 0, res.Failed)
		assert.Equal(t, []string{a.ID, b.ID, c.ID}, rec.ids())
		assert.Equal(t, 0, q.Len(ctx))
	})

	t.Run("empty queue is a no-op", func(t *testing.T) {
		q, _ := newTestQueue(t)

		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Dispatched)
	})

	t.Run("failed action stays persisted with attempts incremented", func(t *testing.T) {
		q, _ := newTestQueue(t)
		rec := &recorder{}
		q.Register(KindFavorite, rec.handler(nil))
		q.Register(KindComment, rec.handler(errors.New("server rejected")))

		a, _ := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "a"})
		b, _ := q.Enqueue(ctx, KindComment, map[string]string{"text": "b"})
		c, _ := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "c"})

		res, err := q.Drain(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Dispatched)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, []string{a.ID, c.ID}, rec.ids())

		remaining := q.Actions(ctx)
		require.Len(t, remaining, 1)
		assert.Equal(t, b.ID, remaining[0].ID)
		assert.Equal(t, 1, remaining[0].Attempts)
	})

	t.Run("action exceeding the pass limit is dropped", func(t *testing.T) {
		q, _ := newTestQueue(t, WithMaxPasses(2))
		q.Register(KindComment, func(context.Context, Action) error {
			return errors.New("always fails")
		})

		_, err := q.Enqueue(ctx, KindComment, map[string]string{"text": "doomed"})
		require.NoError(t, err)

		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)

		res, err = q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Dropped)
		assert.Equal(t, 0, q.Len(ctx))
	})

	t.Run("unknown kind is a dispatch failure, not a panic", func(t *testing.T) {
		q, _ := newTestQueue(t)

		_, err := q.Enqueue(ctx, Kind("uninstalled"), map[string]string{})
		require.NoError(t, err)

		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	})

	t.Run("action enqueued during a drain survives the rewrite", func(t *testing.T) {
		q, _ := newTestQueue(t)

		var enqueueOnce sync.Once
		var late Action
		q.Register(KindFavorite, func(_ context.Context, a Action) error {
			enqueueOnce.Do(func() {
				late, _ = q.Enqueue(ctx, KindComment, map[string]string{"text": "mid-drain"})
			})
			return nil
		})
		q.Register(KindComment, func(context.Context, Action) error { return nil })

		_, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "a"})
		require.NoError(t, err)

		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Dispatched)

		remaining := q.Actions(ctx)
		require.Len(t, remaining, 1)
		assert.Equal(t, late.ID, remaining[0].ID)
		assert.Equal(t, 0, remaining[0].Attempts)
	})

	t.Run("canceled context stops the pass between dispatches", func(t *testing.T) {
		q, _ := newTestQueue(t)

		drainCtx, cancel := context.WithCancel(ctx)
		var dispatched []string
		q.Register(KindFavorite, func(_ context.Context, a Action) error {
			dispatched = append(dispatched, a.ID)
			cancel()
			return nil
		})

		first, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e1"})
		require.NoError(t, err)
		second, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e2"})
		require.NoError(t, err)

		res, err := q.Drain(drainCtx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Dispatched)
		assert.Equal(t, []string{first.ID}, dispatched)

		// The dispatched action is gone; the unattempted one is untouched.
		remaining := q.Actions(ctx)
		require.Len(t, remaining, 1)
		assert.Equal(t, second.ID, remaining[0].ID)
		assert.Equal(t, 0, remaining[0].Attempts)
	})

	t.Run("no coalescing of inverse actions", func(t *testing.T) {
		q, _ := newTestQueue(t)
		rec := &recorder{}
		q.Register(KindFavorite, rec.handler(nil))
		q.Register(KindUnfavorite, rec.handler(nil))

		_, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e1"})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, KindUnfavorite, favoritePayload{EventID: "e1"})
		require.NoError(t, err)

		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Dispatched)
	})
}

func TestQueue_ConcurrentDrains(t *testing.T) {
	ctx := context.Background()

	// Two rapid offline-to-online edges must not double-dispatch.
	q, _ := newTestQueue(t)

	var mu sync.Mutex
	counts := make(map[string]int)
	release := make(chan struct{})
	q.Register(KindFavorite, func(_ context.Context, a Action) error {
		<-release
		mu.Lock()
		counts[a.ID]++
		mu.Unlock()
		return nil
	})

	for range 5 {
		_, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e"})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Drain(ctx)
			assert.NoError(t, err)
		}()
	}

	// Let both triggers land before releasing dispatches.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, 5)
	for id, n := range counts {
		assert.Equal(t, 1, n, "action %s dispatched more than once", id)
	}
	assert.Equal(t, 0, q.Len(ctx))
}

func TestQueue_DispatchTimeout(t *testing.T) {
	ctx := context.Background()

	q, _ := newTestQueue(t, WithDispatchTimeout(20*time.Millisecond))
	q.Register(KindComment, func(ctx context.Context, _ Action) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := q.Enqueue(ctx, KindComment, map[string]string{"text": "slow"})
	require.NoError(t, err)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, q.Len(ctx))
}

func TestQueue_CorruptRecordResets(t *testing.T) {
	ctx := context.Background()

	ms := memstore.New()
	require.NoError(t, ms.Write(ctx, DefaultKey, []byte("not an array")))

	q := New(ms)
	assert.Equal(t, 0, q.Len(ctx))

	_, err := q.Enqueue(ctx, KindFavorite, favoritePayload{EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len(ctx))
}
