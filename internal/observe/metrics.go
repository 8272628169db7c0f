// Package observe wires phonofix into OpenTelemetry. It owns the metric
// instruments recorded by the correction engine and its surfaces, the span
// helpers used around correction passes, a trace-aware [slog] accessor and
// the HTTP [Middleware].
//
// [InitProvider] installs the SDK with a Prometheus bridge so the daemon can
// serve /metrics. Library code records through [DefaultMetrics]; tests build
// isolated instruments with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every phonofix instrument.
const meterName = "github.com/MrWong99/phonofix"

// Metrics holds the OpenTelemetry instruments recorded by phonofix. The
// instruments synchronise internally, so one Metrics may be shared freely.
type Metrics struct {
	// ── Latency ──

	// CorrectDuration is the latency of one full correction pass.
	CorrectDuration metric.Float64Histogram

	// ToolExecutionDuration is the latency of one MCP tool call.
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration is recorded by [Middleware] with the attributes
	// method, path (route pattern) and status ("2xx", "4xx", ...).
	HTTPRequestDuration metric.Float64Histogram

	// ── Search ──

	// WindowsEvaluated counts (window, term) distance computations.
	WindowsEvaluated metric.Int64Counter

	// WindowsSkipped counts windows whose transcription failed.
	WindowsSkipped metric.Int64Counter

	// CorrectionsApplied counts accepted corrections by "language".
	CorrectionsApplied metric.Int64Counter

	// TranscribeCache counts transcription cache lookups by "result"
	// ("hit" or "miss").
	TranscribeCache metric.Int64Counter

	// ── Surfaces and knowledge ──

	// ToolCalls counts MCP tool invocations by "tool" and "status".
	ToolCalls metric.Int64Counter

	// KnowledgeReloads counts knowledge-base reloads by "status".
	KnowledgeReloads metric.Int64Counter

	// KnowledgeEntries is the number of terms in the active knowledge base.
	KnowledgeEntries metric.Int64Gauge
}

// latencyBuckets (seconds) span sub-millisecond passes over short
// utterances up to seconds for long documents against large term lists.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// instruments creates instruments on one meter and collects the first
// error, so NewMetrics reads as a flat list.
type instruments struct {
	m   metric.Meter
	err error
}

func (b *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.fail(name, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.fail(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.m.Int64Gauge(name, metric.WithDescription(desc))
	b.fail(name, err)
	return g
}

func (b *instruments) fail(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
}

// NewMetrics creates the phonofix instruments on mp. Tests pass a meter
// provider backed by a manual reader.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		CorrectDuration:       b.seconds("phonofix.correct.duration", "Latency of one transcript correction pass.", latencyBuckets...),
		ToolExecutionDuration: b.seconds("phonofix.tool_execution.duration", "Latency of MCP tool execution.", latencyBuckets...),
		HTTPRequestDuration:   b.seconds("phonofix.http.request.duration", "HTTP request latency by method, route and status class."),

		WindowsEvaluated:   b.counter("phonofix.windows.evaluated", "Window-versus-term distance computations."),
		WindowsSkipped:     b.counter("phonofix.windows.skipped", "Windows skipped because transcription failed."),
		CorrectionsApplied: b.counter("phonofix.corrections.applied", "Corrections applied by term language."),
		TranscribeCache:    b.counter("phonofix.transcribe.cache", "Transcription cache lookups by result."),

		ToolCalls:        b.counter("phonofix.tool.calls", "MCP tool invocations by tool and status."),
		KnowledgeReloads: b.counter("phonofix.knowledge.reloads", "Knowledge-base reloads by status."),
		KnowledgeEntries: b.gauge("phonofix.knowledge.entries", "Terms in the active knowledge base."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] before the first call or
// the instruments bind to the no-op provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// CorrectionStats is the per-pass summary recorded by [Metrics.RecordCorrection].
type CorrectionStats struct {
	Seconds   float64
	Evaluated int
	Skipped   int
	Applied   []string // language of each applied term, "" when unknown
}

// RecordCorrection records the instruments for one correction pass.
func (m *Metrics) RecordCorrection(ctx context.Context, s CorrectionStats) {
	m.CorrectDuration.Record(ctx, s.Seconds)
	if s.Evaluated > 0 {
		m.WindowsEvaluated.Add(ctx, int64(s.Evaluated))
	}
	if s.Skipped > 0 {
		m.WindowsSkipped.Add(ctx, int64(s.Skipped))
	}
	for _, lang := range s.Applied {
		if lang == "" {
			lang = "unknown"
		}
		m.CorrectionsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("language", lang)))
	}
}

// RecordCacheLookups records transcription cache hits and misses.
func (m *Metrics) RecordCacheLookups(ctx context.Context, hits, misses int64) {
	if hits > 0 {
		m.TranscribeCache.Add(ctx, hits, metric.WithAttributes(attribute.String("result", "hit")))
	}
	if misses > 0 {
		m.TranscribeCache.Add(ctx, misses, metric.WithAttributes(attribute.String("result", "miss")))
	}
}

// RecordToolCall counts one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordKnowledgeReload records a reload attempt and, on success, the new
// entry count.
func (m *Metrics) RecordKnowledgeReload(ctx context.Context, entries int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.KnowledgeReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if err == nil {
		m.KnowledgeEntries.Record(ctx, int64(entries))
	}
}
