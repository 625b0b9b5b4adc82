package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("pageOrder", "page 9 is out of range")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "page 9 is out of range" {
		t.Errorf("expected message 'page 9 is out of range', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "pageOrder" {
		t.Errorf("expected field 'pageOrder', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("job", "abc123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "job abc123 not found" {
		t.Errorf("expected message 'job abc123 not found', got %q", err.Error())
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("job", "abc123", "job already exists")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "job" {
		t.Errorf("expected resource 'job', got %q", appErr.Resource)
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("disk full")
	err := Internal("pipeline.stageUploads", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "pipeline.stageUploads: disk full" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestDependencyMissing(t *testing.T) {
	t.Parallel()
	err := DependencyMissing("pdftoppm", "sudo apt-get install -y poppler-utils")

	if !errors.Is(err, ErrDependencyMissing) {
		t.Error("expected error to match ErrDependencyMissing")
	}
	if !strings.Contains(err.Error(), "apt-get install") {
		t.Errorf("expected install hint in message, got %q", err.Error())
	}

	bare := DependencyMissing("nexa", "")
	if bare.Error() != "nexa is not installed" {
		t.Errorf("unexpected message: %q", bare.Error())
	}
}

func TestWorkerFailure(t *testing.T) {
	t.Parallel()
	err := WorkerFailure("extract", 3, "corrupt xref table")

	if !errors.Is(err, ErrWorkerFailure) {
		t.Error("expected error to match ErrWorkerFailure")
	}
	if errors.Is(err, ErrStageTimeout) {
		t.Error("worker failure must not match ErrStageTimeout")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", appErr.ExitCode)
	}
	if appErr.Stderr != "corrupt xref table" {
		t.Errorf("expected stderr to be preserved, got %q", appErr.Stderr)
	}
	if appErr.Stage != "extract" {
		t.Errorf("expected stage 'extract', got %q", appErr.Stage)
	}
}

func TestStageTimeout(t *testing.T) {
	t.Parallel()
	err := StageTimeout("process", 30*time.Second)

	if !errors.Is(err, ErrStageTimeout) {
		t.Error("expected error to match ErrStageTimeout")
	}
	if errors.Is(err, ErrWorkerFailure) {
		t.Error("stage timeout must not match ErrWorkerFailure")
	}
	if err.Error() != "process stage timed out after 30s" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestEngineStartupTimeout(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	err := EngineStartupTimeout("nexa", 15, cause)

	if !errors.Is(err, ErrEngineStartupTimeout) {
		t.Error("expected error to match ErrEngineStartupTimeout")
	}
	if err.Error() != "engine nexa did not become ready after 15 attempts" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("id", "required"), http.StatusBadRequest},
		{"not found", NotFound("job", "123"), http.StatusNotFound},
		{"conflict", Conflict("job", "123", "exists"), http.StatusConflict},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"dependency missing", DependencyMissing("pdftoppm", ""), http.StatusFailedDependency},
		{"engine timeout", EngineStartupTimeout("ollama", 10, nil), http.StatusGatewayTimeout},
		{"stage timeout", StageTimeout("convert", time.Second), http.StatusGatewayTimeout},
		{"worker failure", WorkerFailure("convert", 1, ""), http.StatusBadGateway},
		{"cleanup", Cleanup("removeDir", fmt.Errorf("busy")), http.StatusInternalServerError},
		{"unavailable", Unavailable("pipeline.prepare", "shutting down"), http.StatusServiceUnavailable},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Validation("f", "m"), "validation_error"},
		{WorkerFailure("s", 1, ""), "worker_failure"},
		{Unavailable("op", "closing"), "unavailable"},
		{StageTimeout("s", time.Second), "stage_timeout"},
		{EngineStartupTimeout("nexa", 1, nil), "engine_startup_timeout"},
		{DependencyMissing("x", ""), "dependency_missing"},
		{fmt.Errorf("stage: %w", context.Canceled), "cancelled"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := StageTimeout("extract", time.Minute)
	wrapped := fmt.Errorf("stage extract: %w", original)
	doubleWrapped := fmt.Errorf("job abc: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrStageTimeout) {
		t.Error("expected errors.Is to find ErrStageTimeout through multiple wraps")
	}
}
