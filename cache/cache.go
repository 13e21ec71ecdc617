// Package cache provides an expiry-aware key-value cache over a durable
// store. Each entry is wrapped in a timestamped envelope and can be read in
// one of two modes: strict (expired entries are deleted and reported absent)
// for use while online, and permissive (expired entries are returned anyway,
// flagged stale) for use while offline, when some data beats no data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	offlinecache "github.com/gigview/offline-cache"
	"github.com/gigview/offline-cache/store"
	"github.com/gigview/offline-cache/telemetry"
)

// LastSyncKey is the durable-store key holding the last successful sync time.
const LastSyncKey = "last_sync"

// Envelope wraps a cached payload with its write and expiry times.
// Invariant: ExpiresAt is after WrittenAt.
type Envelope struct {
	Payload   []byte              `json:"payload"`
	Encoding  string              `json:"encoding,omitempty"`
	Digest    offlinecache.Digest `json:"digest"`
	Size      uint64              `json:"size"`
	WrittenAt time.Time           `json:"written_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Expired reports whether the envelope has expired as of now.
func (e *Envelope) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache is an expiry-aware cache over a durable store. Writes are
// best-effort: storage failures are logged and swallowed so a cache problem
// never fails the caller's primary flow. Reads treat storage failures,
// malformed envelopes, and digest mismatches identically to a miss.
type Cache struct {
	store  store.Store
	codec  *Codec
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache over the given durable store.
func New(s store.Store, opts ...Option) (*Cache, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	c := &Cache{
		store:  s,
		codec:  codec,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases codec resources.
func (c *Cache) Close() {
	c.codec.Close()
}

// Set wraps v in an envelope with the given TTL and writes it to the durable
// store, replacing any prior entry under key. Cache writes are best-effort:
// any failure is logged and swallowed so the caller's flow is never blocked
// by a cache problem.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("failed to marshal cache payload", "key", key, "error", err)
		return
	}

	payload, encoding, digest, err := c.codec.EncodePayload(data)
	if err != nil {
		c.logger.Warn("failed to encode cache payload", "key", key, "error", err)
		return
	}

	now := c.now()
	env := Envelope{
		Payload:   payload,
		Encoding:  encoding,
		Digest:    digest,
		Size:      uint64(len(data)),
		WrittenAt: now,
		ExpiresAt: now.Add(ttl),
	}

	blob, err := json.Marshal(&env)
	if err != nil {
		c.logger.Warn("failed to marshal cache envelope", "key", key, "error", err)
		return
	}

	if err := c.store.Write(ctx, key, blob); err != nil {
		c.logger.Warn("failed to write cache entry", "key", key, "error", err)
		return
	}

	telemetry.RecordCacheWrite(ctx, int64(len(data)))
	c.logger.Debug("cached entry", "key", key, "ttl", ttl, "size", len(data))
}

// Get performs a strict read: if the entry is absent it returns false, and if
// it is present but expired the entry is deleted from the durable store and
// false is returned. Expired data is never returned from this call. On
// success the payload is unmarshaled into v.
func (c *Cache) Get(ctx context.Context, key string, v any) bool {
	env, data, ok := c.read(ctx, key)
	if !ok {
		telemetry.RecordCacheLookup(ctx, telemetry.LookupMiss)
		return false
	}

	if env.Expired(c.now()) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to delete expired cache entry", "key", key, "error", err)
		}
		telemetry.RecordCacheLookup(ctx, telemetry.LookupExpired)
		c.logger.Debug("cache entry expired", "key", key, "expired_at", env.ExpiresAt)
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("failed to unmarshal cache payload", "key", key, "error", err)
		telemetry.RecordCacheLookup(ctx, telemetry.LookupMiss)
		return false
	}

	telemetry.RecordCacheLookup(ctx, telemetry.LookupHit)
	return true
}

// GetStale performs a permissive read: the entry is returned whether or not
// it has expired, together with its staleness, and is never deleted. This is
// the offline fallback path where stale data beats no data.
func (c *Cache) GetStale(ctx context.Context, key string, v any) (ok, expired bool) {
	env, data, found := c.read(ctx, key)
	if !found {
		telemetry.RecordCacheLookup(ctx, telemetry.LookupMiss)
		return false, false
	}

	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("failed to unmarshal cache payload", "key", key, "error", err)
		telemetry.RecordCacheLookup(ctx, telemetry.LookupMiss)
		return false, false
	}

	expired = env.Expired(c.now())
	if expired {
		telemetry.RecordCacheLookup(ctx, telemetry.LookupStale)
	} else {
		telemetry.RecordCacheLookup(ctx, telemetry.LookupHit)
	}
	return true, expired
}

// read loads and decodes the envelope under key. Storage failures, malformed
// envelopes, and corrupted payloads are all treated as a miss; corruption
// must never be fatal to the calling feature.
func (c *Cache) read(ctx context.Context, key string) (*Envelope, []byte, bool) {
	blob, err := c.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("failed to read cache entry", "key", key, "error", err)
		}
		return nil, nil, false
	}

	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		c.logger.Warn("malformed cache envelope, treating as miss", "key", key, "error", err)
		return nil, nil, false
	}

	data, err := c.codec.DecodePayload(env.Payload, env.Encoding, env.Digest, env.Size)
	if err != nil {
		c.logger.Warn("corrupted cache payload, treating as miss", "key", key, "error", err)
		return nil, nil, false
	}

	return &env, data, true
}

// Remove deletes the entry under key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Clear deletes the given set of keys in one batch. Keys not in the set,
// such as the offline queue record, are untouched.
func (c *Cache) Clear(ctx context.Context, keys ...string) error {
	return c.store.DeleteMany(ctx, keys)
}

// SetLastSync records the time of the last successful sync.
func (c *Cache) SetLastSync(ctx context.Context, t time.Time) error {
	return c.store.Write(ctx, LastSyncKey, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// LastSync returns the recorded last successful sync time, if any.
func (c *Cache) LastSync(ctx context.Context) (time.Time, bool) {
	blob, err := c.store.Read(ctx, LastSyncKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("failed to read last sync time", "error", err)
		}
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, string(blob))
	if err != nil {
		c.logger.Warn("malformed last sync record", "error", err)
		return time.Time{}, false
	}
	return t, true
}
