package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type route struct {
	pattern string
	handler http.HandlerFunc
}

// serve registers the routes behind [Middleware] and performs one request.
func serve(t *testing.T, m *Metrics, req *http.Request, routes ...route) *httptest.ResponseRecorder {
	t.Helper()
	mw := Middleware(m)
	mux := http.NewServeMux()
	for _, r := range routes {
		mux.Handle(r.pattern, mw(r.handler))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func durationPoints(t *testing.T, rm metricdata.ResourceMetrics) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, "phonofix.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func attrValue(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.Emit()
}

func lastSpan(t *testing.T, exp *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	return spans[len(spans)-1]
}

func TestMiddleware_TraceIDHeader(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)

	var inHandler string
	rec := serve(t, m, httptest.NewRequest(http.MethodPost, "/v1/correct", nil), route{
		pattern: "POST /v1/correct",
		handler: func(w http.ResponseWriter, r *http.Request) {
			inHandler = TraceID(r.Context())
			_, _ = w.Write([]byte(`{}`))
		},
	})

	if len(inHandler) != 32 {
		t.Fatalf("handler trace ID = %q, want 32 hex digits", inHandler)
	}
	if got := rec.Header().Get(TraceIDHeader); got != inHandler {
		t.Errorf("%s = %q, want %q", TraceIDHeader, got, inHandler)
	}
	if got := rec.Header().Get("traceparent"); !strings.Contains(got, inHandler) {
		t.Errorf("traceparent = %q, want it to carry %s", got, inHandler)
	}
	if got := lastSpan(t, exp).Name; got != "HTTP POST /v1/correct" {
		t.Errorf("span name = %q", got)
	}
}

func TestMiddleware_ContinuesRemoteTrace(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)
	const remote = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/v1/terms", nil)
	req.Header.Set("traceparent", "00-"+remote+"-00f067aa0ba902b7-01")
	var inHandler string
	rec := serve(t, m, req, route{
		pattern: "GET /v1/terms",
		handler: func(w http.ResponseWriter, r *http.Request) { inHandler = TraceID(r.Context()) },
	})

	if inHandler != remote {
		t.Errorf("handler trace ID = %q, want %q", inHandler, remote)
	}
	if got := rec.Header().Get(TraceIDHeader); got != remote {
		t.Errorf("%s = %q, want %q", TraceIDHeader, got, remote)
	}
}

func TestMiddleware_RecordsRouteAndStatus(t *testing.T) {
	exp := installTracer(t)
	m, reader := newTestMetrics(t)

	routes := []route{
		{pattern: "GET /v1/terms/{canonical}", handler: func(w http.ResponseWriter, _ *http.Request) {}},
		{pattern: "POST /v1/distance", handler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad representation", http.StatusBadRequest)
		}},
	}
	serve(t, m, httptest.NewRequest(http.MethodGet, "/v1/terms/Bar", nil), routes...)
	serve(t, m, httptest.NewRequest(http.MethodGet, "/v1/terms/Foo", nil), routes...)
	serve(t, m, httptest.NewRequest(http.MethodPost, "/v1/distance", nil), routes...)

	got := make(map[string]uint64)
	for _, dp := range durationPoints(t, collect(t, reader)) {
		key := attrValue(dp.Attributes, "method") + " " + attrValue(dp.Attributes, "path") + " " + attrValue(dp.Attributes, "status")
		got[key] = dp.Count
	}
	want := map[string]uint64{
		"GET GET /v1/terms/{canonical} 2xx": 2,
		"POST POST /v1/distance 4xx":        1,
	}
	if len(got) != len(want) {
		t.Fatalf("data points = %v, want %v", got, want)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("count[%s] = %d, want %d", k, got[k], n)
		}
	}

	span := lastSpan(t, exp)
	var status int64
	for _, a := range span.Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusBadRequest {
		t.Errorf("span status code attribute = %d, want 400", status)
	}
	if span.Status.Code == codes.Error {
		t.Error("client error marked the span failed")
	}
}

func TestMiddleware_ServerErrorFailsSpan(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)

	serve(t, m, httptest.NewRequest(http.MethodPost, "/v1/correct", nil), route{
		pattern: "POST /v1/correct",
		handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
	})
	if got := lastSpan(t, exp).Status.Code; got != codes.Error {
		t.Errorf("span status = %v, want Error", got)
	}
}

func TestMiddleware_LogLevelByStatus(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "level=DEBUG"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tt := range tests {
		buf := captureLogs(t, slog.LevelDebug)
		serve(t, m, httptest.NewRequest(http.MethodGet, "/v1/terms", nil), route{
			pattern: "GET /v1/terms",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("abc"))
			},
		})
		out := buf.String()
		if !strings.Contains(out, tt.want) {
			t.Errorf("status %d: log %q, want %s", tt.status, out, tt.want)
		}
		if !strings.Contains(out, "bytes=3") {
			t.Errorf("status %d: log %q missing bytes=3", tt.status, out)
		}
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	installTracer(t)
	m, reader := newTestMetrics(t)

	serve(t, m, httptest.NewRequest(http.MethodGet, "/healthz", nil), route{
		pattern: "GET /healthz",
		handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) },
	})
	pts := durationPoints(t, collect(t, reader))
	if len(pts) != 1 || attrValue(pts[0].Attributes, "status") != "2xx" {
		t.Errorf("data points = %+v, want one 2xx", pts)
	}
}

func TestInitProvider(t *testing.T) {
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})

	if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: 2}); err == nil {
		t.Error("sample ratio 2 accepted")
	}

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Registerer:     prometheus.NewRegistry(),
		SampleRatio:    0.5,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "after-init")
	if TraceID(ctx) == "" {
		t.Error("tracer provider not installed")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
