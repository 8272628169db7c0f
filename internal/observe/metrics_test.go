package observe

import (
	"context"
	"errors"
	"testing"

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

// sumWith returns the value of the int64 sum data point whose attribute key
// equals value, and whether it was found.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value, true
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordCorrection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCorrection(ctx, CorrectionStats{Seconds: 0.002, Evaluated: 12, Skipped: 2, Applied: []string{"zh", "", "zh"}})
	m.RecordCorrection(ctx, CorrectionStats{Seconds: 0.004, Evaluated: 3})

	rm := collect(t, reader)

	met := findMetric(rm, "phonofix.correct.duration")
	if met == nil {
		t.Fatal("phonofix.correct.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("phonofix.correct.duration has no histogram data")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}

	if v, _ := sumWith(t, rm, "phonofix.windows.evaluated", "", ""); v != 15 {
		t.Errorf("windows.evaluated = %d, want 15", v)
	}
	if v, _ := sumWith(t, rm, "phonofix.windows.skipped", "", ""); v != 2 {
		t.Errorf("windows.skipped = %d, want 2", v)
	}
	if v, ok := sumWith(t, rm, "phonofix.corrections.applied", "language", "zh"); !ok || v != 2 {
		t.Errorf("corrections.applied{language=zh} = %d (found=%v), want 2", v, ok)
	}
	if v, ok := sumWith(t, rm, "phonofix.corrections.applied", "language", "unknown"); !ok || v != 1 {
		t.Errorf("corrections.applied{language=unknown} = %d (found=%v), want 1", v, ok)
	}
}

func TestRecordCacheLookups(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookups(ctx, 5, 2)
	m.RecordCacheLookups(ctx, 1, 0)

	rm := collect(t, reader)
	if v, ok := sumWith(t, rm, "phonofix.transcribe.cache", "result", "hit"); !ok || v != 6 {
		t.Errorf("cache{result=hit} = %d, want 6", v)
	}
	if v, ok := sumWith(t, rm, "phonofix.transcribe.cache", "result", "miss"); !ok || v != 2 {
		t.Errorf("cache{result=miss} = %d, want 2", v)
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "correct_transcript", "ok")
	m.RecordToolCall(ctx, "correct_transcript", "error")

	rm := collect(t, reader)
	if v, ok := sumWith(t, rm, "phonofix.tool.calls", "status", "ok"); !ok || v != 1 {
		t.Errorf("tool.calls{status=ok} = %d, want 1", v)
	}
}

func TestRecordKnowledgeReload(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordKnowledgeReload(ctx, 42, nil)
	m.RecordKnowledgeReload(ctx, 0, errors.New("boom"))

	rm := collect(t, reader)
	if v, ok := sumWith(t, rm, "phonofix.knowledge.reloads", "status", "error"); !ok || v != 1 {
		t.Errorf("knowledge.reloads{status=error} = %d, want 1", v)
	}

	met := findMetric(rm, "phonofix.knowledge.entries")
	if met == nil {
		t.Fatal("phonofix.knowledge.entries not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) == 0 {
		t.Fatal("phonofix.knowledge.entries is not a gauge with data")
	}
	if g.DataPoints[0].Value != 42 {
		t.Errorf("knowledge.entries = %d, want 42", g.DataPoints[0].Value)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
