package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestHistograms(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"speakwise.audio.decode.duration", m.DecodeDuration},
		{"speakwise.score.duration", m.ScoreDuration},
		{"speakwise.tts.duration", m.TTSDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.2)
		tc.h.Record(ctx, 45)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Errorf("metric %q not found", tc.name)
			continue
		}
		hist := met.Data.(metricdata.Histogram[float64])
		if got := hist.DataPoints[0].Count; got != 2 {
			t.Errorf("%s: count = %d, want 2", tc.name, got)
		}
		if got := len(hist.DataPoints[0].Bounds); got != len(latencyBuckets) {
			t.Errorf("%s: %d bounds, want %d", tc.name, got, len(latencyBuckets))
		}
	}
}

func TestRecordCritique(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCritique(ctx, "completed", 3.2)
	m.RecordCritique(ctx, "completed", 1.1)
	m.RecordCritique(ctx, "superseded", 0.4)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "speakwise.critique.outcomes", "outcome", "completed"); got != 2 {
		t.Errorf("completed = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "speakwise.critique.outcomes", "outcome", "superseded"); got != 1 {
		t.Errorf("superseded = %d, want 1", got)
	}
	if findMetric(rm, "speakwise.critique.duration") == nil {
		t.Error("critique duration not recorded")
	}
}

func TestProviderCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "azure", "tts", "ok")
	m.RecordProviderRequest(ctx, "azure", "tts", "ok")
	m.RecordProviderRequest(ctx, "azure", "tts", "error")
	m.RecordProviderError(ctx, "azure", "tts")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "speakwise.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "speakwise.provider.errors", "provider", "azure"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "azure", "open")
	m.RecordBreakerTransition(ctx, "azure", "half-open")
	m.RecordBreakerTransition(ctx, "azure", "open")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "speakwise.provider.breaker.transitions", "state", "open"); got != 2 {
		t.Errorf("open transitions = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCritiques.Add(ctx, 1)
	m.ActiveCritiques.Add(ctx, 1)
	m.ActiveCritiques.Add(ctx, -1)
	m.ScoringInFlight.Add(ctx, 3)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"speakwise.critique.active": 1,
		"speakwise.score.in_flight": 3,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("metric %q not found", name)
			continue
		}
		if got := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
