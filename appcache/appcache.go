// Package appcache binds the generic cache and the connectivity monitor to
// the client's payload families: event listings, featured events, per-user
// tickets, and per-user favorites. Each family has its own TTL, and every
// read decides strict versus permissive mode from current connectivity in
// exactly one place, so call sites never choose the freshness policy
// themselves.
package appcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gigview/offline-cache/cache"
	"github.com/gigview/offline-cache/connectivity"
)

// Fixed cache keys for unparameterized families.
const (
	KeyEvents         = "events"
	KeyFeaturedEvents = "featured_events"
)

// TicketsKey returns the cache key for a user's purchased tickets.
func TicketsKey(userID string) string {
	return "user_tickets:" + userID
}

// FavoritesKey returns the cache key for a user's favorites.
func FavoritesKey(userID string) string {
	return "user_favorites:" + userID
}

// Per-family TTLs. Listings change often and are cheap to refetch; purchase
// records change rarely; favorites should feel responsive to the user's own
// actions.
const (
	ListingTTL   = 30 * time.Minute
	TicketsTTL   = 60 * time.Minute
	FavoritesTTL = 15 * time.Minute
)

// Cached is a payload served from the cache. Stale is true when the entry was
// served past its expiry because the device was offline; the UI surfaces this
// as a staleness indicator.
type Cached struct {
	Data  json.RawMessage
	Stale bool
}

// Cache is the domain facade over the generic cache and the connectivity
// monitor. Payloads are opaque JSON passed through unchanged.
type Cache struct {
	cache   *cache.Cache
	monitor *connectivity.Monitor
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the facade.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Cache) {
		a.logger = logger
	}
}

// New creates the facade.
func New(c *cache.Cache, m *connectivity.Monitor, opts ...Option) *Cache {
	a := &Cache{
		cache:   c,
		monitor: m,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CacheEvents stores the event listing. Call after every successful fetch of
// the listing, never on a failed one.
func (a *Cache) CacheEvents(ctx context.Context, data json.RawMessage) {
	a.cache.Set(ctx, KeyEvents, data, ListingTTL)
}

// GetCachedEvents returns the cached event listing, if usable.
func (a *Cache) GetCachedEvents(ctx context.Context) (*Cached, bool) {
	return a.get(ctx, KeyEvents)
}

// CacheFeaturedEvents stores the featured-events listing.
func (a *Cache) CacheFeaturedEvents(ctx context.Context, data json.RawMessage) {
	a.cache.Set(ctx, KeyFeaturedEvents, data, ListingTTL)
}

// GetCachedFeaturedEvents returns the cached featured-events listing, if usable.
func (a *Cache) GetCachedFeaturedEvents(ctx context.Context) (*Cached, bool) {
	return a.get(ctx, KeyFeaturedEvents)
}

// CacheTickets stores a user's purchased tickets.
func (a *Cache) CacheTickets(ctx context.Context, userID string, data json.RawMessage) {
	a.cache.Set(ctx, TicketsKey(userID), data, TicketsTTL)
}

// GetCachedTickets returns a user's cached tickets, if usable.
func (a *Cache) GetCachedTickets(ctx context.Context, userID string) (*Cached, bool) {
	return a.get(ctx, TicketsKey(userID))
}

// CacheFavorites stores a user's favorites.
func (a *Cache) CacheFavorites(ctx context.Context, userID string, data json.RawMessage) {
	a.cache.Set(ctx, FavoritesKey(userID), data, FavoritesTTL)
}

// GetCachedFavorites returns a user's cached favorites, if usable.
func (a *Cache) GetCachedFavorites(ctx context.Context, userID string) (*Cached, bool) {
	return a.get(ctx, FavoritesKey(userID))
}

// get is the single place deciding strict versus permissive reads. Online:
// fresh-or-absent, so stale data is refetched instead of served. Offline:
// stale-or-absent, so the UI has something to show.
func (a *Cache) get(ctx context.Context, key string) (*Cached, bool) {
	var data json.RawMessage

	if a.monitor.IsConnected() {
		if !a.cache.Get(ctx, key, &data) {
			return nil, false
		}
		return &Cached{Data: data}, true
	}

	ok, expired := a.cache.GetStale(ctx, key, &data)
	if !ok {
		return nil, false
	}
	if expired {
		a.logger.Debug("serving stale cache entry while offline", "key", key)
	}
	return &Cached{Data: data, Stale: expired}, true
}

// ClearUser removes one user's cached families. Shared listings, the offline
// queue, and the last-sync record are untouched.
func (a *Cache) ClearUser(ctx context.Context, userID string) error {
	return a.cache.Clear(ctx, TicketsKey(userID), FavoritesKey(userID))
}

// Clear removes all family keys: the shared listings plus the per-user
// families for the given user ids. The offline queue and last-sync records
// are untouched.
func (a *Cache) Clear(ctx context.Context, userIDs ...string) error {
	keys := []string{KeyEvents, KeyFeaturedEvents}
	for _, id := range userIDs {
		keys = append(keys, TicketsKey(id), FavoritesKey(id))
	}
	return a.cache.Clear(ctx, keys...)
}

// MarkSynced records now as the last successful sync time.
func (a *Cache) MarkSynced(ctx context.Context) error {
	return a.cache.SetLastSync(ctx, time.Now())
}

// LastSync returns the recorded last successful sync time, if any.
func (a *Cache) LastSync(ctx context.Context) (time.Time, bool) {
	return a.cache.LastSync(ctx)
}
