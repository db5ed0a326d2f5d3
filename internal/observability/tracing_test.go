package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/model"
)

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func attrsOf(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func TestInitTracing_disabledAndNone(t *testing.T) {
	for _, cfg := range []config.TracingConfig{
		{Enabled: false, Exporter: "otlp"},
		{Enabled: true, Exporter: "none"},
	} {
		shutdown, err := InitTracing(context.Background(), cfg, "casewizard", "test")
		if err != nil {
			t.Fatalf("InitTracing(%+v) error = %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	}
}

func TestInitTracing_unsupportedExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"}, "casewizard", "test")
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Errorf("InitTracing() error = %v, want unsupported exporter", err)
	}
}

func TestSessionAttrs(t *testing.T) {
	exp := recordSpans(t)

	_, span := StartSpan(context.Background(), "wizard.put_field",
		SessionAttrs("case-1", "sess-1", AttrFieldKey.String("weight_kg"))...)
	EndSpanWithError(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := attrsOf(spans[0])
	for k, want := range map[string]string{
		"wizard.case_id":    "case-1",
		"wizard.session_id": "sess-1",
		"wizard.field_key":  "weight_kg",
	} {
		if got[k] != want {
			t.Errorf("attr %s = %q, want %q", k, got[k], want)
		}
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful span marked as error")
	}

	if attrs := SessionAttrs("", ""); len(attrs) != 0 {
		t.Errorf("SessionAttrs with no ids = %v, want none", attrs)
	}
}

func TestStartRemoteSpan(t *testing.T) {
	exp := recordSpans(t)

	_, span := StartRemoteSpan(context.Background(), "submit", "case-7")
	span.SetAttributes(AttrAttempt.Int(2))
	EndSpanWithError(span, model.NewCaseInvalidError("case has errors"))

	_, span = StartRemoteSpan(context.Background(), "listProcedures", "")
	EndSpanWithError(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}

	submit := spans[0]
	if submit.Name != "remote.submit" || submit.SpanKind != trace.SpanKindClient {
		t.Errorf("span = %s/%v, want remote.submit/client", submit.Name, submit.SpanKind)
	}
	got := attrsOf(submit)
	if got["remote.operation"] != "submit" || got["wizard.case_id"] != "case-7" || got["remote.attempt"] != "2" {
		t.Errorf("attrs = %v", got)
	}
	if got["error.code"] != model.ErrCaseInvalid {
		t.Errorf("error.code = %q, want %s", got["error.code"], model.ErrCaseInvalid)
	}
	if submit.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", submit.Status.Code)
	}

	if _, ok := attrsOf(spans[1])["wizard.case_id"]; ok {
		t.Error("catalogue span carries a case id")
	}
}

func TestTracingMiddleware_serverSpan(t *testing.T) {
	exp := recordSpans(t)

	var traceID string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ui/sessions/s1/submit", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace ID = %q, want inbound trace continued", traceID)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("response carries no traceparent")
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := attrsOf(spans[0])
	if got["http.response.status_code"] != "502" || got["http.websocket"] != "false" {
		t.Errorf("attrs = %v", got)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want error for 502", spans[0].Status.Code)
	}
}

func TestTracingMiddleware_probesUntraced(t *testing.T) {
	exp := recordSpans(t)

	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range []string{"/ui/health", "/ui/ready", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("spans = %d, want 0", n)
	}
}

func TestTracingMiddleware_webSocketUpgrade(t *testing.T) {
	exp := recordSpans(t)

	srv := httptest.NewServer(TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	})))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ui/sessions/s1/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("Read() error = %v, want normal closure", err)
	}
	conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for len(exp.GetSpans()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := attrsOf(spans[0])["http.websocket"]; got != "true" {
		t.Errorf("http.websocket = %q, want true", got)
	}
}
