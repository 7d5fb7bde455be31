package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onstagehq/onstage/internal/middleware"
	"github.com/onstagehq/onstage/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return recorder
}

// TestRequestProducesSpanTree exercises the full span chain a room
// occupancy request produces: the middleware's HTTP span, an inner
// authorization span, and a client span for the room lookup, all on the
// same trace.
func TestRequestProducesSpanTree(t *testing.T) {
	recorder := installRecorder(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, endAuthorize := tracing.StartSpan(r.Context(), "authorize_room")
		tracing.SetAttributes(ctx,
			attribute.String("identity", "ident-123"),
			attribute.String("room_id", "main-hall"),
		)

		ctx, endLookup := tracing.StartDBSpan(ctx, "rooms", tracing.DBOperationQuery)
		endLookup(nil)

		tracing.AddEvent(ctx, "access_granted")
		endAuthorize(nil)

		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rooms/main-hall/occupancy", nil)
	middleware.Tracing("onstage-live")(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		for i, span := range spans {
			t.Logf("  span %d: %s", i, span.Name())
		}
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, span := range spans {
		byName[span.Name()] = span
	}
	for _, name := range []string{"GET /rooms/main-hall/occupancy", "authorize_room", "query rooms"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing span %q", name)
		}
	}

	// Context propagation keeps every span on the request's trace.
	traceID := spans[0].SpanContext().TraceID()
	for _, span := range spans {
		if span.SpanContext().TraceID() != traceID {
			t.Errorf("span %q escaped the request trace", span.Name())
		}
	}

	if dbSpan, ok := byName["query rooms"]; ok {
		want := map[attribute.Key]string{
			"db.system":    "postgresql",
			"db.operation": "query",
			"db.sql.table": "rooms",
		}
		got := make(map[attribute.Key]string)
		for _, attr := range dbSpan.Attributes() {
			got[attr.Key] = attr.Value.AsString()
		}
		for key, value := range want {
			if got[key] != value {
				t.Errorf("db span attribute %s = %q, want %q", key, got[key], value)
			}
		}
	}
}

// Span helpers must stay callable with tracing disabled; they fall back
// to the global no-op tracer.
func TestSpanHelpersWithTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{ServiceName: "onstage-live", Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if provider.IsEnabled() {
		t.Fatal("expected a disabled provider")
	}

	ctx, end := tracing.StartSpan(context.Background(), "presence_sweep")
	tracing.SetAttributes(ctx, attribute.Int("swept", 0))
	tracing.AddEvent(ctx, "sweep_complete")
	end(nil)
}

func TestTraceIDVisibleToHandlers(t *testing.T) {
	recorder := installRecorder(t)

	var capturedTraceID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = middleware.GetTraceID(r)
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	middleware.Tracing("onstage-live")(handler).ServeHTTP(rr, req)

	if capturedTraceID == "" {
		t.Fatal("handler saw an empty trace ID")
	}
	spans := recorder.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if got := spans[0].SpanContext().TraceID().String(); got != capturedTraceID {
		t.Errorf("handler captured trace ID %s, span has %s", capturedTraceID, got)
	}
}
