package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	metrics, handler, err := NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	if metrics == nil || handler == nil {
		t.Fatal("Expected metrics and handler to be non-nil")
	}
}

func TestMetricsExposition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs", 200, 0.5)
	metrics.RecordJobStarted(ctx, "ocr")
	metrics.RecordStage(ctx, "ocr", "process", 3*time.Second, nil)
	metrics.RecordStage(ctx, "ocr", "convert", time.Second, errors.New("exit 1"))
	metrics.RecordJobFinished(ctx, "ocr", "failed", 5*time.Second)
	metrics.RecordFallback(ctx, "ocr")
	metrics.RecordCleanupFailure(ctx)
	metrics.RecordEngineStart(ctx, "nexa", 4*time.Second, true)
	metrics.RecordEngineShutdown(ctx, "nexa")
	metrics.RecordDispatcherDelivered(ctx, 0.02)
	metrics.RecordDispatcherQueueSize(ctx, 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, name := range []string{
		"http_requests_total",
		"jobs_total",
		"job_errors_total",
		"stage_duration_seconds",
		"stage_errors_total",
		"fallbacks_total",
		"cleanup_failures_total",
		"engine_starts_total",
		"engine_shutdowns_total",
		"dispatcher_delivered_total",
		"go_goroutines",
	} {
		if !strings.Contains(text, name) {
			t.Errorf("expected %s in exposition", name)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/livez", "/livez"},
		{"/v1/jobs", "/v1/jobs"},
		{"/v1/jobs/history", "/v1/jobs/history"},
		{"/v1/jobs/abc123", "/v1/jobs/{jobId}"},
		{"/v1/dependencies/pdftoppm/install", "/v1/dependencies/{name}/install"},
		{"/v1/dependencies", "/v1/dependencies"},
		{"/v1/engines/nexa/stop", "/v1/engines/{kind}/stop"},
		{"/files/job-1/out.pdf", "/files/{jobId}/{name}"},
		{"/other/path", "/other/path"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.input); got != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
