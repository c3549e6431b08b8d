package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTelemetry wires a manual metric reader and an in-memory span exporter,
// registering the tracer provider globally for the duration of the test.
func newTelemetry(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return m, reader, exp
}

// serveOne runs a single request through the wrapped handler and returns the
// recorder plus the correlation ID the handler observed in its context.
func serveOne(t *testing.T, m *Metrics, target string, status int, header http.Header) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var observed string
	h := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest("GET", target, nil)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, observed
}

func TestHTTPMiddleware_CorrelationHeader(t *testing.T) {
	m, _, _ := newTelemetry(t)

	rec, observed := serveOne(t, m, "/status", http.StatusOK, nil)

	if observed == "" {
		t.Fatal("handler context carried no correlation ID")
	}
	if len(observed) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(observed))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != observed {
		t.Errorf("X-Correlation-ID = %q, want %q", got, observed)
	}
}

func TestHTTPMiddleware_SpanPerRequest(t *testing.T) {
	m, _, exp := newTelemetry(t)

	serveOne(t, m, "/span", http.StatusOK, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /span" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /span")
	}
}

func TestHTTPMiddleware_RecordsLatency(t *testing.T) {
	m, reader, _ := newTelemetry(t)

	serveOne(t, m, "/latency", http.StatusOK, nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxgate.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("histogram has no data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	attrs := make(map[string]string)
	for _, kv := range dp.Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["method"] != "GET" || attrs["path"] != "/latency" {
		t.Errorf("attributes = %v, want method=GET path=/latency", attrs)
	}
}

func TestHTTPMiddleware_SpanCarriesStatusCode(t *testing.T) {
	m, _, exp := newTelemetry(t)

	rec, _ := serveOne(t, m, "/missing", http.StatusNotFound, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span is missing the response status code attribute")
	}
}

func TestHTTPMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := newTelemetry(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	hdr := http.Header{}
	hdr.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec, observed := serveOne(t, m, "/upstream", http.StatusOK, hdr)

	if observed != traceID {
		t.Errorf("correlation ID = %q, want the incoming trace ID %q", observed, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}
