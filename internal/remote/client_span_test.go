package remote

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/model"
)

func TestClient_spansCarryOperationCaseAndAttempt(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	var hits atomic.Int32
	r := chi.NewRouter()
	r.Get("/cases/{caseId}", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "caseId"), "status": "IN_PROCESS"})
	})
	r.Get("/procedures/{code}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": model.ErrNotFound, "message": "no such procedure"})
	})
	c, _ := newTestClient(t, r, config.RemoteConfig{
		Retry: config.RetryConfig{MaxAttempts: 2, BackoffInitial: time.Millisecond},
	})

	if _, err := c.GetCase(context.Background(), rctx, "case-1"); err != nil {
		t.Fatalf("GetCase() error = %v", err)
	}
	if _, err := c.GetProcedureSchema(context.Background(), rctx, "IMPORT"); model.CodeOf(err) != model.ErrNotFound {
		t.Fatalf("GetProcedureSchema() code = %q, want NOT_FOUND", model.CodeOf(err))
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	attrs := func(s tracetest.SpanStub) map[string]string {
		m := map[string]string{}
		for _, a := range s.Attributes {
			m[string(a.Key)] = a.Value.Emit()
		}
		return m
	}

	get := attrs(spans[0])
	if spans[0].Name != "remote.getCase" || spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("span = %s/%v, want remote.getCase/client", spans[0].Name, spans[0].SpanKind)
	}
	if get["remote.operation"] != OpGetCase || get["wizard.case_id"] != "case-1" || get["remote.attempt"] != "2" {
		t.Errorf("getCase attrs = %v", get)
	}

	schema := attrs(spans[1])
	if _, ok := schema["wizard.case_id"]; ok {
		t.Errorf("schema span tagged with case id: %v", schema)
	}
	if schema["error.code"] != model.ErrNotFound {
		t.Errorf("schema error.code = %q, want NOT_FOUND", schema["error.code"])
	}
}
