package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDependencyMissing):
		return http.StatusFailedDependency
	case errors.Is(err, ErrEngineStartupTimeout), errors.Is(err, ErrStageTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrWorkerFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short machine-readable code for an error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDependencyMissing):
		return "dependency_missing"
	case errors.Is(err, ErrEngineStartupTimeout):
		return "engine_startup_timeout"
	case errors.Is(err, ErrWorkerFailure):
		return "worker_failure"
	case errors.Is(err, ErrStageTimeout):
		return "stage_timeout"
	case errors.Is(err, ErrCleanup):
		return "cleanup_error"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal_error"
	}
}
