package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentLifecycle, Output: &buf})

	logger.Info("sheet opened", FieldVisitorID, "a131")
	logger.WithComponent(ComponentWorker).Debug("tick")

	out := buf.String()
	if !strings.Contains(out, "component=lifecycle") || !strings.Contains(out, "visitor_id=a131") {
		t.Errorf("missing fields in %q", out)
	}
	if !strings.Contains(out, "component=worker") {
		t.Errorf("component override not applied: %q", out)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Output: &buf})

	h := RequestIDMiddleware(base, func(*http.Request) string { return "req-42" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			LogError(r.Context(), "handler failed", errors.New("boom"), ComponentHTTP, OpValidate,
				NewFields().WithErrorType(ErrorTypeDatabase))
		}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	out := buf.String()
	for _, want := range []string{"request_id=req-42", "error=boom", "operation=validate", "error_type=database_error"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("expected fallback logger")
	}
}
