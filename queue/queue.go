// Package queue provides a durable FIFO of mutation intents recorded while
// the device is offline and replayed once connectivity returns. The whole
// queue is persisted as a single blob under one durable-store key; expected
// sizes are tens of actions, not thousands, so read-whole, push, write-whole
// is the simplest durable append.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gigview/offline-cache/store"
	"github.com/gigview/offline-cache/telemetry"
)

// DefaultKey is the durable-store key holding the persisted action sequence.
const DefaultKey = "offline_actions"

const (
	// DefaultDispatchTimeout bounds a single replay attempt so one hung
	// network call cannot stall the whole pass.
	DefaultDispatchTimeout = 10 * time.Second

	// DefaultMaxTries is how many attempts a single drain pass makes per
	// action before counting it as failed for the pass.
	DefaultMaxTries = 3

	// DefaultMaxPasses is how many drain passes may fail an action before it
	// is dropped from the queue entirely.
	DefaultMaxPasses = 5
)

// ErrUnknownKind is returned when an action's kind has no registered handler.
var ErrUnknownKind = errors.New("queue: no handler registered for kind")

// Kind identifies the mutation an action represents.
type Kind string

// Action kinds replayed against the API.
const (
	KindFavorite   Kind = "favorite"
	KindUnfavorite Kind = "unfavorite"
	KindComment    Kind = "comment"
)

// Action is a single pending mutation. The payload is opaque to the queue;
// only the registered handler for the kind interprets it.
type Action struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`

	// Attempts counts drain passes that have tried and failed this action.
	Attempts int `json:"attempts,omitempty"`
}

// Handler replays one action against the network.
type Handler func(ctx context.Context, action Action) error

// DrainResult summarises one drain pass.
type DrainResult struct {
	// Dispatched is the number of actions replayed successfully.
	Dispatched int
	// Failed is the number of actions that failed this pass and remain
	// persisted for a later pass.
	Failed int
	// Dropped is the number of actions discarded after exceeding the pass
	// limit.
	Dropped int
	// Duration is the wall time of the pass.
	Duration time.Duration
}

// Queue is the durable offline action queue. Enqueue may be called at any
// time, including while a drain is in flight; actions enqueued mid-drain
// survive the post-drain rewrite. Concurrent drain triggers coalesce into a
// single pass via singleflight so no action is ever dispatched twice.
type Queue struct {
	store    store.Store
	key      string
	handlers map[Kind]Handler
	logger   *slog.Logger
	now      func() time.Time

	dispatchTimeout time.Duration
	maxTries        uint
	maxPasses       int

	mu    sync.Mutex // guards read-modify-write of the persisted blob
	group singleflight.Group
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey sets the durable-store key for the persisted sequence.
func WithKey(key string) Option {
	return func(q *Queue) {
		q.key = key
	}
}

// WithLogger sets the logger for the queue.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithDispatchTimeout bounds each replay attempt.
func WithDispatchTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.dispatchTimeout = d
	}
}

// WithMaxTries sets the per-pass attempt limit for a single action.
func WithMaxTries(n uint) Option {
	return func(q *Queue) {
		q.maxTries = n
	}
}

// WithMaxPasses sets how many failed passes an action survives before being
// dropped with a warning.
func WithMaxPasses(n int) Option {
	return func(q *Queue) {
		q.maxPasses = n
	}
}

// New creates a queue over the given durable store.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:           s,
		key:             DefaultKey,
		handlers:        make(map[Kind]Handler),
		logger:          slog.Default(),
		now:             time.Now,
		dispatchTimeout: DefaultDispatchTimeout,
		maxTries:        DefaultMaxTries,
		maxPasses:       DefaultMaxPasses,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds a replay handler to an action kind. Adding an
// offline-capable mutation is a registration, not a new branch in the drain
// logic. Register before Start/Drain; registration is not synchronized with
// an in-flight drain.
func (q *Queue) Register(kind Kind, handler Handler) {
	q.handlers[kind] = handler
}

// Enqueue records a mutation intent at the tail of the persisted sequence.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload any) (Action, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Action{}, fmt.Errorf("marshaling payload: %w", err)
	}

	action := Action{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions := q.load(ctx)
	actions = append(actions, action)
	if err := q.persist(ctx, actions); err != nil {
		return Action{}, fmt.Errorf("persisting queue: %w", err)
	}

	telemetry.RecordEnqueue(ctx, string(kind))
	telemetry.RecordQueueDepth(ctx, int64(len(actions)))
	q.logger.Debug("enqueued offline action", "id", action.ID, "kind", kind, "depth", len(actions))

	return action, nil
}

// Len returns the number of persisted actions.
func (q *Queue) Len(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load(ctx))
}

// Actions returns a snapshot of the persisted sequence in enqueue order.
func (q *Queue) Actions(ctx context.Context) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Drain replays every persisted action in enqueue order. Successful actions
// are removed; failed actions stay persisted with their attempt count
// incremented, until they exceed the pass limit and are dropped with a
// warning. Each dispatch is individually timeout-bounded, and the pass
// honors the caller's context: cancellation stops it between dispatches,
// leaving unattempted actions persisted with their counts untouched.
// Concurrent callers share a single pass governed by the first caller's
// context. Background callers that must outlive their trigger (the
// reconnect hook) pass a detached context.
func (q *Queue) Drain(ctx context.Context) (*DrainResult, error) {
	v, err, shared := q.group.Do("drain", func() (any, error) {
		return q.drain(ctx)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*DrainResult)
	if shared {
		q.logger.Debug("drain coalesced with in-flight pass")
	}
	return res, nil
}

func (q *Queue) drain(ctx context.Context) (*DrainResult, error) {
	start := q.now()
	result := &DrainResult{}

	q.mu.Lock()
	snapshot := q.load(ctx)
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return result, nil
	}

	q.logger.Info("draining offline queue", "depth", len(snapshot))

	dispatched := make(map[string]bool, len(snapshot))
	failed := make(map[string]bool)

	for i, action := range snapshot {
		if err := ctx.Err(); err != nil {
			q.logger.Warn("drain interrupted",
				"error", err,
				"unattempted", len(snapshot)-i)
			break
		}
		if err := q.dispatch(ctx, action); err != nil {
			failed[action.ID] = true
			q.logger.Warn("offline action dispatch failed",
				"id", action.ID,
				"kind", action.Kind,
				"attempts", action.Attempts+1,
				"error", err)
			continue
		}
		dispatched[action.ID] = true
		result.Dispatched++
		q.logger.Debug("offline action replayed", "id", action.ID, "kind", action.Kind)
	}

	// Rewrite the persisted sequence: drop dispatched actions, bump attempt
	// counts on attempted failures, keep anything enqueued while the pass
	// ran. Actions skipped by an interrupted pass keep their counts.
	q.mu.Lock()
	current := q.load(ctx)
	remaining := make([]Action, 0, len(current))
	for _, a := range current {
		if dispatched[a.ID] {
			continue
		}
		if failed[a.ID] {
			a.Attempts++
			if a.Attempts >= q.maxPasses {
				result.Dropped++
				q.logger.Warn("dropping offline action after repeated failures",
					"id", a.ID,
					"kind", a.Kind,
					"attempts", a.Attempts)
				continue
			}
			result.Failed++
		}
		remaining = append(remaining, a)
	}
	err := q.persist(ctx, remaining)
	q.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("persisting queue after drain: %w", err)
	}

	result.Duration = q.now().Sub(start)
	telemetry.RecordDrain(ctx, result.Dispatched, result.Failed, result.Dropped, result.Duration)
	telemetry.RecordQueueDepth(ctx, int64(len(remaining)))

	q.logger.Info("offline queue drained",
		"dispatched", result.Dispatched,
		"failed", result.Failed,
		"dropped", result.Dropped,
		"duration", result.Duration)

	return result, nil
}

// dispatch replays one action, retrying transient failures with exponential
// backoff. Each attempt is bounded by the dispatch timeout; a timeout is
// treated like any other dispatch failure.
func (q *Queue) dispatch(ctx context.Context, action Action) error {
	handler, ok := q.handlers[action.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, action.Kind)
	}

	start := q.now()
	operation := func() (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, q.dispatchTimeout)
		defer cancel()
		return struct{}{}, handler(actx, action)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(q.maxTries),
	)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	telemetry.RecordDispatch(ctx, string(action.Kind), outcome, q.now().Sub(start))

	return err
}

// load reads the persisted sequence. A missing record is an empty queue; a
// corrupt record is logged and treated as empty rather than wedging every
// future enqueue. Callers must hold q.mu.
func (q *Queue) load(ctx context.Context) []Action {
	blob, err := q.store.Read(ctx, q.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			q.logger.Warn("failed to read offline queue", "error", err)
		}
		return nil
	}

	var actions []Action
	if err := json.Unmarshal(blob, &actions); err != nil {
		q.logger.Warn("corrupt offline queue record, resetting", "error", err)
		return nil
	}
	return actions
}

// persist writes the whole sequence. Callers must hold q.mu.
func (q *Queue) persist(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return q.store.Delete(ctx, q.key)
	}

	blob, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshaling queue: %w", err)
	}
	return q.store.Write(ctx, q.key, blob)
}
