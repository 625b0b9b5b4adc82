package api

import (
	"net/http"

	"docpipe/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Handler *Handler
	Feed    http.Handler // websocket progress feed; nil disables /v1/events
	Metrics *observability.Metrics
	APIKey  string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := cfg.Handler
	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Artifact URLs are handed to browsers, so downloads are not behind auth.
	mux.HandleFunc("GET /files/{jobId}/{name}", handler.DownloadFile)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", auth(http.HandlerFunc(handler.CreateJob)))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/history", auth(http.HandlerFunc(handler.ListHistory)))
	mux.Handle("GET /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.DeleteJob)))

	mux.Handle("GET /v1/dependencies", auth(http.HandlerFunc(handler.ListDependencies)))
	mux.Handle("POST /v1/dependencies/{name}/install", auth(http.HandlerFunc(handler.InstallDependency)))

	mux.Handle("GET /v1/engines", auth(http.HandlerFunc(handler.ListEngines)))
	mux.Handle("POST /v1/engines/{kind}/stop", auth(http.HandlerFunc(handler.StopEngine)))

	if cfg.Feed != nil {
		mux.Handle("GET /v1/events", auth(cfg.Feed))
	}

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
