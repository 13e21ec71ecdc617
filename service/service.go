// Package service wires the offline cache components together: durable
// store, cache, connectivity monitor, offline queue, replay handlers, and
// the domain facade. It is constructed once at process start and passed to
// consumers explicitly; there is no package-level singleton.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gigview/offline-cache/api"
	"github.com/gigview/offline-cache/appcache"
	"github.com/gigview/offline-cache/cache"
	"github.com/gigview/offline-cache/connectivity"
	"github.com/gigview/offline-cache/queue"
	"github.com/gigview/offline-cache/store/boltstore"
)

// Config holds service configuration.
type Config struct {
	// StorePath is the bolt database file path.
	StorePath string

	// BaseURL is the remote API base URL.
	BaseURL string

	// Token is the bearer token for API authentication (optional).
	Token string

	// ProbeURL is the connectivity probe target. Defaults to BaseURL.
	ProbeURL string

	// DispatchTimeout bounds each replay dispatch during a drain.
	DispatchTimeout time.Duration

	// Logger for all components.
	Logger *slog.Logger
}

// Service is the assembled offline cache layer.
type Service struct {
	Store   *boltstore.BoltStore
	Cache   *cache.Cache
	Monitor *connectivity.Monitor
	Queue   *queue.Queue
	API     *api.Client
	App     *appcache.Cache

	logger *slog.Logger
}

// New creates and wires the service. The returned service owns the store;
// call Close to release it.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "./offline-cache.db"
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.BaseURL
	}

	st := boltstore.New(boltstore.WithLogger(cfg.Logger))
	if err := st.Open(cfg.StorePath); err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	c, err := cache.New(st, cache.WithLogger(cfg.Logger))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	clientOpts := []api.ClientOption{api.WithBaseURL(cfg.BaseURL)}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, api.WithBearerToken(cfg.Token))
	}
	client := api.NewClient(clientOpts...)

	queueOpts := []queue.Option{queue.WithLogger(cfg.Logger)}
	if cfg.DispatchTimeout > 0 {
		queueOpts = append(queueOpts, queue.WithDispatchTimeout(cfg.DispatchTimeout))
	}
	q := queue.New(st, queueOpts...)
	api.RegisterReplayHandlers(q, client)

	monitor := connectivity.New(
		connectivity.NewHTTPProber(cfg.ProbeURL),
		connectivity.WithLogger(cfg.Logger),
		connectivity.WithOnlineHook(func(ctx context.Context) {
			// Detached so a reconnect-triggered replay survives the
			// triggering context.
			if _, err := q.Drain(context.WithoutCancel(ctx)); err != nil {
				cfg.Logger.Error("queue drain failed", "error", err)
			}
		}),
	)

	return &Service{
		Store:   st,
		Cache:   c,
		Monitor: monitor,
		Queue:   q,
		API:     client,
		App:     appcache.New(c, monitor, appcache.WithLogger(cfg.Logger)),
		logger:  cfg.Logger,
	}, nil
}

// Start begins consuming the device's network-state feed.
func (s *Service) Start(ctx context.Context, feed <-chan bool) {
	s.Monitor.Start(ctx, feed)
}

// Close stops the monitor and releases the cache and store.
func (s *Service) Close() error {
	s.Monitor.Stop()
	s.Cache.Close()
	if err := s.Store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
