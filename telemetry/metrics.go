// Package telemetry provides metrics and logging setup for the file cache.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/file-cache"

	// exportInterval is how often the OTLP reader pushes metrics.
	exportInterval = 10 * time.Second
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	opsTotal   metric.Int64Counter
	opDuration metric.Float64Histogram

	sweepRunsTotal    metric.Int64Counter
	sweepRemovedTotal metric.Int64Counter
	sweepDuration     metric.Float64Histogram
	sweepLastRun      metric.Float64Gauge

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
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

// doInitMetrics installs a meter provider with a reader per configured
// exporter. With no exporter configured metrics stay disabled and every
// Record call is a no-op.
func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("creating otlp exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(exportInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return fmt.Errorf("creating prometheus exporter: %w", err)
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	if len(readers) == 0 {
		return nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "file-cache"
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
		return fmt.Errorf("building resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	opsTotal, err := meter.Int64Counter(
		"file_cache_ops_total",
		metric.WithDescription("Total number of cache operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	opDuration, err := meter.Float64Histogram(
		"file_cache_op_duration_seconds",
		metric.WithDescription("Cache operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	sweepRunsTotal, err := meter.Int64Counter(
		"file_cache_sweep_runs_total",
		metric.WithDescription("Total number of expiration sweeps"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	sweepRemovedTotal, err := meter.Int64Counter(
		"file_cache_sweep_removed_total",
		metric.WithDescription("Total number of expired entries removed by sweeps"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"file_cache_sweep_duration_seconds",
		metric.WithDescription("Expiration sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	sweepLastRun, err := meter.Float64Gauge(
		"file_cache_sweep_last_run_timestamp_seconds",
		metric.WithDescription("Unix timestamp of the last expiration sweep"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		opsTotal:          opsTotal,
		opDuration:        opDuration,
		sweepRunsTotal:    sweepRunsTotal,
		sweepRemovedTotal: sweepRemovedTotal,
		sweepDuration:     sweepDuration,
		sweepLastRun:      sweepLastRun,
	}, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordCacheOp records one cache operation.
// outcome is one of the Outcome constants.
func RecordCacheOp(ctx context.Context, store, op, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.opsTotal.Add(ctx, 1, attrs)
	globalMetrics.opDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSweep records one expiration sweep and the entries it removed.
func RecordSweep(ctx context.Context, store string, removed int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("store", store))
	globalMetrics.sweepRunsTotal.Add(ctx, 1, attrs)
	globalMetrics.sweepRemovedTotal.Add(ctx, int64(removed), attrs)
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds(), attrs)
	globalMetrics.sweepLastRun.Record(ctx, float64(time.Now().Unix()), attrs)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}
