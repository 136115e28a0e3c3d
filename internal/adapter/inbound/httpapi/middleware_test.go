package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// --- middleware tests ---

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var seenID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware(testLogger())(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/kill", nil))

	if seenID == "" {
		t.Fatal("no request id in handler context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seenID {
		t.Errorf("echoed id = %q, want %q", got, seenID)
	}
}

func TestRequestIDMiddleware_PropagatesCallerID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromContext(r.Context()); got != "trace-123" {
			t.Errorf("context id = %q, want trace-123", got)
		}
		if LoggerFromContext(r.Context(), nil) == slog.Default() {
			t.Error("no request-scoped logger installed")
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/kill", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec := httptest.NewRecorder()
	RequestIDMiddleware(testLogger())(inner).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("echoed id = %q, want trace-123", got)
	}
}

func TestLoggerFromContext_Fallback(t *testing.T) {
	fallback := testLogger()
	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("fallback logger not returned for bare context")
	}
	if got := LoggerFromContext(context.Background(), nil); got != slog.Default() {
		t.Error("nil fallback should yield the default logger")
	}
}

func TestRequestIDFromContext_Absent(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("id from bare context = %q, want empty", got)
	}
}
