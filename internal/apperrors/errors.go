// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInternal             = errors.New("internal error")
	ErrDependencyMissing    = errors.New("dependency missing")
	ErrEngineStartupTimeout = errors.New("engine startup timeout")
	ErrWorkerFailure        = errors.New("worker failure")
	ErrStageTimeout         = errors.New("stage timeout")
	ErrCleanup              = errors.New("cleanup error")
	ErrUnavailable          = errors.New("unavailable")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "mode", "pageOrder")
	Resource string // For not found/conflict/dependency errors (e.g., "job", "pdftoppm")
	Op       string // Operation that failed (e.g., "engine.ensureReady")
	Stage    string // Pipeline stage for worker errors (e.g., "extract")
	ExitCode int    // Worker exit code, -1 when the process never exited normally
	Stderr   string // Tail of worker stderr
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Unavailable reports that op is refused because the service is going away.
func Unavailable(op, reason string) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  reason,
		Op:       op,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// DependencyMissing reports an optional capability that is not installed.
// installCommand is the shell command a user can run to install it.
func DependencyMissing(name, installCommand string) error {
	msg := fmt.Sprintf("%s is not installed", name)
	if installCommand != "" {
		msg = fmt.Sprintf("%s is not installed, install it with: %s", name, installCommand)
	}
	return &Error{
		Sentinel: ErrDependencyMissing,
		Message:  msg,
		Resource: name,
	}
}

// EngineStartupTimeout reports an engine that did not become ready in time.
func EngineStartupTimeout(kind string, attempts int, cause error) error {
	return &Error{
		Sentinel: ErrEngineStartupTimeout,
		Message:  fmt.Sprintf("engine %s did not become ready after %d attempts", kind, attempts),
		Resource: kind,
		Op:       "engine.ensureReady",
		Cause:    cause,
	}
}

// WorkerFailure reports a worker process that exited unsuccessfully.
func WorkerFailure(stage string, exitCode int, stderr string) error {
	msg := fmt.Sprintf("%s stage failed with exit code %d", stage, exitCode)
	if stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return &Error{
		Sentinel: ErrWorkerFailure,
		Message:  msg,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

// StageTimeout reports a stage that exceeded its wall-clock limit.
func StageTimeout(stage string, timeout time.Duration) error {
	return &Error{
		Sentinel: ErrStageTimeout,
		Message:  fmt.Sprintf("%s stage timed out after %s", stage, timeout),
		Stage:    stage,
		ExitCode: -1,
	}
}

// Cleanup reports a failure while releasing job resources.
func Cleanup(op string, cause error) error {
	return &Error{
		Sentinel: ErrCleanup,
		Message:  fmt.Sprintf("cleanup %s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
