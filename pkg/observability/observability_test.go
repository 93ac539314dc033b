package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsRecording(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	metrics.RecordAgentCall("title", "confirm_loop", 100*time.Millisecond)
	metrics.RecordAgentCall("title", "confirm_loop", 200*time.Millisecond)
	metrics.RecordLLMCall("claude-3-5-sonnet", "anthropic", 500*time.Millisecond)
	metrics.RecordHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond, 0, 2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	metrics.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("metrics handler: got status %d, want 200", rec.Code)
	}
}

func TestNoopMetrics(t *testing.T) {
	var rec Recorder = NoopMetrics{}
	rec.RecordAgentCall("title", "confirm_loop", 100*time.Millisecond)
	rec.RecordLLMCall("test-model", "test-provider", 300*time.Millisecond)
	rec.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 0, 0)
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()
	if m.TracingEnabled() || m.MetricsEnabled() {
		t.Error("NoopManager should report both tracing and metrics disabled")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestManagerDisabledByDefault(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.TracingEnabled() || m.MetricsEnabled() {
		t.Error("a Config with nothing enabled should produce a Manager with both disabled")
	}
}

func TestDebugExporterCapturesOnlyKnownSpans(t *testing.T) {
	exp := NewDebugExporter()
	if got := exp.Count(); got != 0 {
		t.Fatalf("fresh exporter has %d spans, want 0", got)
	}
	if !exp.shouldCapture(SpanAgentRun) {
		t.Error("expected SpanAgentRun to be captured")
	}
	if exp.shouldCapture("some.other.span") {
		t.Error("expected an unrelated span name to be skipped")
	}
}

func TestStringTruncation(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"", 5, ""},
		{"test", 4, "test"},
	}

	for _, tt := range tests {
		if got := truncateString(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}
