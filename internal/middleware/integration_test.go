package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onstagehq/onstage/internal/middleware"
)

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	var seenID string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rooms/main-hall/occupancy", nil))

	if seenID == "" {
		t.Error("handler saw no request ID in context")
	}
	if got := rr.Header().Get("X-Request-ID"); got != seenID {
		t.Errorf("response header %q does not match context ID %q", got, seenID)
	}
}

func TestRequestID_ValidIncomingIDPreserved(t *testing.T) {
	const incoming = "550e8400-e29b-41d4-a716-446655440000"

	var seenID string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/rooms/main-hall/occupancy", nil)
	req.Header.Set("X-Request-ID", incoming)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seenID != incoming {
		t.Errorf("context ID = %q, want %q", seenID, incoming)
	}
	if got := rr.Header().Get("X-Request-ID"); got != incoming {
		t.Errorf("response header = %q, want %q", got, incoming)
	}
}

// Incoming IDs end up in log lines, so anything that could forge or
// mangle a log entry gets replaced with a generated UUID.
func TestRequestID_InvalidIncomingIDReplaced(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantKept bool
	}{
		{"newline injection", "test\nforged-log-entry", false},
		{"special characters", "test@#$%^&*()", false},
		{"oversized", strings.Repeat("a", 200), false},
		{"well formed uuid", "550e8400-e29b-41d4-a716-446655440000", true},
	}

	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("X-Request-ID", tt.incoming)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get("X-Request-ID")
			if got == "" {
				t.Fatal("response has no X-Request-ID")
			}
			if tt.wantKept && got != tt.incoming {
				t.Errorf("valid ID %q was replaced with %q", tt.incoming, got)
			}
			if !tt.wantKept && got == tt.incoming {
				t.Errorf("invalid ID %q should have been replaced", tt.incoming)
			}
		})
	}
}

// The full chain: RequestID feeds the logging middleware so every log
// line carries the ID the client can quote back to support.
func TestRequestID_FlowsIntoRequestLogs(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := middleware.RequestID(
		middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rooms/main-hall/typists", nil))

	responseID := rr.Header().Get("X-Request-ID")
	if responseID == "" {
		t.Fatal("response has no X-Request-ID")
	}

	logs := logBuf.String()
	for _, field := range []string{
		"method=GET",
		"path=/rooms/main-hall/typists",
		"status=200",
		"request_id=" + responseID,
	} {
		if !strings.Contains(logs, field) {
			t.Errorf("log line missing %q: %s", field, logs)
		}
	}
}

func BenchmarkRequestID_GenerateID(b *testing.B) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func BenchmarkRequestID_ValidateIncomingID(b *testing.B) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "550e8400-e29b-41d4-a716-446655440000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
