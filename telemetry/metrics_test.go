package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics creates a Metrics instance backed by a ManualReader for testing.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newMetrics(mp.Meter(meterName))
	require.NoError(t, err)
	m.meterProvider = mp
	globalMetrics = m

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordCacheOp(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordCacheOp(ctx, "filesystem", "get", OutcomeHit, 2*time.Millisecond)
	RecordCacheOp(ctx, "filesystem", "get", OutcomeHit, 3*time.Millisecond)
	RecordCacheOp(ctx, "filesystem", "get", OutcomeMiss, 1*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "file_cache_ops_total")
	require.Len(t, dps, 2)
	for _, dp := range dps {
		require.True(t, hasAttr(dp.Attributes, "store", "filesystem"))
		require.True(t, hasAttr(dp.Attributes, "op", "get"))
		switch {
		case hasAttr(dp.Attributes, "outcome", OutcomeHit):
			require.EqualValues(t, 2, dp.Value)
		case hasAttr(dp.Attributes, "outcome", OutcomeMiss):
			require.EqualValues(t, 1, dp.Value)
		default:
			t.Fatalf("unexpected attributes: %v", dp.Attributes)
		}
	}

	histDps := findHistogram(rm, "file_cache_op_duration_seconds")
	require.Len(t, histDps, 2)
}

func TestRecordSweep(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordSweep(context.Background(), "filesystem", 7, time.Second)

	rm := collectMetrics(t, reader)

	runs := findCounter(rm, "file_cache_sweep_runs_total")
	require.Len(t, runs, 1)
	require.EqualValues(t, 1, runs[0].Value)

	removed := findCounter(rm, "file_cache_sweep_removed_total")
	require.Len(t, removed, 1)
	require.EqualValues(t, 7, removed[0].Value)

	hist := findHistogram(rm, "file_cache_sweep_duration_seconds")
	require.Len(t, hist, 1)
	require.Equal(t, uint64(1), hist[0].Count)
}

func TestRecord_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil

	// Should not panic
	RecordCacheOp(context.Background(), "filesystem", "set", OutcomeSuccess, time.Millisecond)
	RecordSweep(context.Background(), "filesystem", 1, time.Millisecond)
}

func TestPrometheusHandler_NotEnabled(t *testing.T) {
	globalMetrics = nil

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitMetrics_NoExportersLeavesMetricsDisabled(t *testing.T) {
	globalMetrics = nil

	require.NoError(t, doInitMetrics(context.Background(), MetricsConfig{ServiceName: "test"}))
	require.Nil(t, globalMetrics)
	require.NoError(t, shutdownMetrics(context.Background()))
}
