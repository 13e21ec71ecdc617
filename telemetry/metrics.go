// Package telemetry provides OpenTelemetry metrics for the offline cache:
// cache lookup outcomes, queue depth and drain results, connectivity probe
// outcomes, and API request durations.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/gigview/offline-cache"
)

// LookupResult classifies the outcome of a cache lookup.
type LookupResult string

const (
	// LookupHit means a fresh entry was returned.
	LookupHit LookupResult = "hit"
	// LookupMiss means no usable entry existed (absent, malformed, or corrupt).
	LookupMiss LookupResult = "miss"
	// LookupExpired means a strict read found an expired entry and removed it.
	LookupExpired LookupResult = "expired"
	// LookupStale means a permissive read returned an expired entry anyway.
	LookupStale LookupResult = "stale"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	cacheLookupsTotal metric.Int64Counter
	cacheWritesTotal  metric.Int64Counter
	cacheWriteSize    metric.Float64Histogram

	queueEnqueuedTotal   metric.Int64Counter
	queueDispatchedTotal metric.Int64Counter
	queueDepth           metric.Int64Gauge
	drainsTotal          metric.Int64Counter
	drainDuration        metric.Float64Histogram
	dispatchDuration     metric.Float64Histogram

	probesTotal      metric.Int64Counter
	transitionsTotal metric.Int64Counter

	apiRequestsTotal   metric.Int64Counter
	apiRequestDuration metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation. Recording helpers are
// no-ops until this is called, so library consumers that don't care about
// metrics can skip it entirely.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(_ context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "offline-cache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	cacheLookupsTotal, err := meter.Int64Counter(
		"offline_cache_lookups_total",
		metric.WithDescription("Total number of cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	cacheWritesTotal, err := meter.Int64Counter(
		"offline_cache_writes_total",
		metric.WithDescription("Total number of cache writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return err
	}

	cacheWriteSize, err := meter.Float64Histogram(
		"offline_cache_write_size_bytes",
		metric.WithDescription("Uncompressed size of payloads written to the cache"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304),
	)
	if err != nil {
		return err
	}

	queueEnqueuedTotal, err := meter.Int64Counter(
		"offline_queue_enqueued_total",
		metric.WithDescription("Total number of actions enqueued by kind"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	queueDispatchedTotal, err := meter.Int64Counter(
		"offline_queue_dispatched_total",
		metric.WithDescription("Total number of replay dispatch attempts by kind and outcome"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	queueDepth, err := meter.Int64Gauge(
		"offline_queue_depth",
		metric.WithDescription("Number of actions currently persisted in the offline queue"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return err
	}

	drainsTotal, err := meter.Int64Counter(
		"offline_queue_drains_total",
		metric.WithDescription("Total number of queue drain passes"),
		metric.WithUnit("{drain}"),
	)
	if err != nil {
		return err
	}

	drainDuration, err := meter.Float64Histogram(
		"offline_queue_drain_duration_seconds",
		metric.WithDescription("Duration of queue drain passes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	dispatchDuration, err := meter.Float64Histogram(
		"offline_queue_dispatch_duration_seconds",
		metric.WithDescription("Duration of individual replay dispatches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	probesTotal, err := meter.Int64Counter(
		"offline_connectivity_probes_total",
		metric.WithDescription("Total number of connectivity probes by outcome"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return err
	}

	transitionsTotal, err := meter.Int64Counter(
		"offline_connectivity_transitions_total",
		metric.WithDescription("Total number of connectivity state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	apiRequestsTotal, err := meter.Int64Counter(
		"offline_api_requests_total",
		metric.WithDescription("Total number of API requests by method and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	apiRequestDuration, err := meter.Float64Histogram(
		"offline_api_request_duration_seconds",
		metric.WithDescription("API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		cacheLookupsTotal:    cacheLookupsTotal,
		cacheWritesTotal:     cacheWritesTotal,
		cacheWriteSize:       cacheWriteSize,
		queueEnqueuedTotal:   queueEnqueuedTotal,
		queueDispatchedTotal: queueDispatchedTotal,
		queueDepth:           queueDepth,
		drainsTotal:          drainsTotal,
		drainDuration:        drainDuration,
		dispatchDuration:     dispatchDuration,
		probesTotal:          probesTotal,
		transitionsTotal:     transitionsTotal,
		apiRequestsTotal:     apiRequestsTotal,
		apiRequestDuration:   apiRequestDuration,
		meterProvider:        mp,
		promHandler:          promHandler,
	}

	return nil
}

func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordCacheLookup records a cache lookup outcome.
func RecordCacheLookup(ctx context.Context, result LookupResult) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", string(result)),
	))
}

// RecordCacheWrite records a cache write and its uncompressed payload size.
func RecordCacheWrite(ctx context.Context, size int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheWritesTotal.Add(ctx, 1)
	globalMetrics.cacheWriteSize.Record(ctx, float64(size))
}

// RecordEnqueue records an action enqueued for offline replay.
func RecordEnqueue(ctx context.Context, kind string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.queueEnqueuedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordDispatch records a single replay dispatch attempt.
func RecordDispatch(ctx context.Context, kind, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	}
	globalMetrics.queueDispatchedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDrain records the result of a queue drain pass.
func RecordDrain(ctx context.Context, dispatched, failed, dropped int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	outcome := "clean"
	if failed > 0 || dropped > 0 {
		outcome = "partial"
	}
	globalMetrics.drainsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	globalMetrics.drainDuration.Record(ctx, duration.Seconds())
}

// RecordQueueDepth records the current persisted queue depth.
func RecordQueueDepth(ctx context.Context, depth int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.queueDepth.Record(ctx, depth)
}

// RecordProbe records a connectivity probe outcome.
func RecordProbe(ctx context.Context, online bool) {
	if globalMetrics == nil {
		return
	}
	outcome := "offline"
	if online {
		outcome = "online"
	}
	globalMetrics.probesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordTransition records a connectivity state transition.
func RecordTransition(ctx context.Context, online bool) {
	if globalMetrics == nil {
		return
	}
	to := "offline"
	if online {
		to = "online"
	}
	globalMetrics.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
	))
}

// RecordAPIRequest records an API request outcome and duration.
func RecordAPIRequest(ctx context.Context, method, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	}
	globalMetrics.apiRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.apiRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// PrometheusHandler returns the /metrics handler, or a 404 handler when
// Prometheus exposition is not enabled.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
