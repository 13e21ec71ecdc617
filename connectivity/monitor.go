// Package connectivity owns the device's online/offline verdict. It consumes
// a push-based network-state feed, supports an on-demand pull probe, and fans
// out state transitions to registered listeners. An offline-to-online edge
// additionally fires a configurable hook (the offline queue drain) exactly
// once per edge, as a fire-and-forget background task.
package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gigview/offline-cache/telemetry"
)

// Prober performs an on-demand connectivity check.
type Prober interface {
	// Probe reports whether the network is currently reachable. A non-nil
	// error is treated by the monitor as offline.
	Probe(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (bool, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) (bool, error) {
	return f(ctx)
}

type listener struct {
	fn func(online bool)
}

// Monitor is the single source of truth for connectivity state. The initial
// state is an optimistic online guess, corrected by the first probe or feed
// event. Listener notification is driven by the push feed only; the pull
// probe updates state silently.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners []*listener

	prober   Prober
	onOnline func(ctx context.Context)
	logger   *slog.Logger

	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger for the monitor.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithOnlineHook sets the hook fired on each offline-to-online edge. The hook
// runs in its own goroutine so listeners are never blocked by it.
func WithOnlineHook(hook func(ctx context.Context)) Option {
	return func(m *Monitor) {
		m.onOnline = hook
	}
}

// New creates a monitor. The prober is used by CheckConnection; pass nil if
// only the push feed drives state.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		online: true, // optimistic until the first probe or feed event
		prober: prober,
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start consumes the push-based network-state feed in a background goroutine
// until the feed closes, the context is canceled, or Stop is called.
func (m *Monitor) Start(ctx context.Context, feed <-chan bool) {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx, feed)
}

// Stop stops feed consumption and waits for the consuming goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run(ctx context.Context, feed <-chan bool) {
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case online, ok := <-feed:
			if !ok {
				m.logger.Debug("network feed closed")
				return
			}
			m.apply(ctx, online)
		}
	}
}

// apply records a feed-driven state change and notifies listeners. Repeated
// identical states are dropped, matching device-level de-duplication.
func (m *Monitor) apply(ctx context.Context, online bool) {
	m.mu.Lock()
	prev := m.online
	m.online = online

	var snapshot []func(bool)
	if prev != online {
		// Snapshot so a callback may unsubscribe itself (or anyone else)
		// without corrupting this delivery.
		snapshot = make([]func(bool), 0, len(m.listeners))
		for _, l := range m.listeners {
			snapshot = append(snapshot, l.fn)
		}
	}
	hook := m.onOnline
	m.mu.Unlock()

	if prev == online {
		return
	}

	telemetry.RecordTransition(ctx, online)
	m.logger.Info("connectivity changed", "online", online)

	for _, fn := range snapshot {
		fn(online)
	}

	// Offline-to-online edge: replay queued actions, fire-and-forget so
	// listeners are not blocked behind the drain.
	if !prev && online && hook != nil {
		go hook(ctx)
	}
}

// CheckConnection performs a fresh probe, updates the shared state, and
// returns the result. A probe failure is treated as offline rather than
// risking a hang on a dead network. The probe does not notify listeners;
// only the push feed drives notification.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsConnected()
	}

	online, err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.Debug("connectivity probe failed, assuming offline", "error", err)
		online = false
	}

	telemetry.RecordProbe(ctx, online)

	m.mu.Lock()
	m.online = online
	m.mu.Unlock()

	return online
}

// IsConnected returns the last known state without probing. Never blocks on
// I/O.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnConnectionChange registers a listener invoked with the new state on every
// feed-driven transition. Listeners run in registration order. The returned
// function deregisters the listener and is safe to call from within the
// callback itself.
func (m *Monitor) OnConnectionChange(fn func(online bool)) (unsubscribe func()) {
	l := &listener{fn: fn}

	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, cur := range m.listeners {
				if cur == l {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					break
				}
			}
		})
	}
}
