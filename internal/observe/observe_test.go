package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

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

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics, match attribute.KeyValue) int64 {
	t.Helper()
	if m == nil {
		t.Fatal("metric not found")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(match.Key); ok && v == match.Value {
			total += dp.Value
		}
	}
	return total
}

func TestCompletionTracer_Complete(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	m, reader := newTestMetrics(t)
	tracer := NewCompletionTracer(tp.Tracer("test"), m)

	_, span := tracer.StartCompletion(context.Background(), "gpt-4o-mini", 2, 3)
	span.Complete(120, 30, 1, "tool_calls")

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "completion" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status.Code)
	}

	tokens := findMetric(t, reader, "agentdash.completion.tokens")
	if got := sumValue(t, tokens, attribute.String("direction", "input")); got != 120 {
		t.Errorf("input tokens = %d, want 120", got)
	}
}

func TestCompletionTracer_RecordError(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	m, reader := newTestMetrics(t)
	tracer := NewCompletionTracer(tp.Tracer("test"), m)

	_, span := tracer.StartCompletion(context.Background(), "m", 1, 0)
	span.RecordError(errors.New("HTTP 502"))

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("spans = %+v, want one errored span", spans)
	}
	reqs := findMetric(t, reader, "agentdash.completion.requests")
	if got := sumValue(t, reqs, attribute.String("status", "error")); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestCompletionTracer_NilHalves(t *testing.T) {
	_, span := NewCompletionTracer(nil, nil).StartCompletion(context.Background(), "m", 1, 0)
	span.Complete(1, 1, 0, "stop")
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordToolCall(context.Background(), "web_search", "builtin", "ok", 0.2)
	m.RecordToolCall(context.Background(), "web_search", "builtin", "error", 0.1)

	calls := findMetric(t, reader, "agentdash.tool.calls")
	if got := sumValue(t, calls, attribute.String("tool", "web_search")); got != 2 {
		t.Errorf("tool calls = %d, want 2", got)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordToolCall(context.Background(), "x", "custom", "ok", 0)
	nilMetrics.RecordRun(context.Background(), "stop", 1)
}

func TestMiddleware(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(m, nil)(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/42", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /v1/items/{id}" {
		t.Errorf("spans = %+v", spans)
	}
	if findMetric(t, reader, "agentdash.http.request.duration") == nil {
		t.Error("request duration not recorded")
	}
}

func TestInitProvider_ServesPrivateRegistry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Environment:    "staging",
		InstanceID:     "replica-7",
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordToolCall(context.Background(), "web_search", "builtin", "ok", 0.2)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"agentdash_tool_calls", `tool="web_search"`, "go_goroutines", `service_instance_id="replica-7"`} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	got := map[string]string{}
	for _, kv := range tel.Resource().Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"service.name":           "agentdash",
		"service.version":        "test",
		"service.instance.id":    "replica-7",
		"deployment.environment": "staging",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("resource %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestInitProvider_GeneratesInstanceID(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	id, ok := tel.Resource().Set().Value("service.instance.id")
	if !ok || id.AsString() == "" {
		t.Error("expected a generated service.instance.id")
	}
	if _, ok := tel.Resource().Set().Value("deployment.environment"); ok {
		t.Error("deployment.environment set without an environment")
	}
}
