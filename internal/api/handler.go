// Package api provides the HTTP API handlers and routing for the docpipe service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"docpipe/internal/apperrors"
	"docpipe/internal/depgate"
	"docpipe/internal/engine"
	"docpipe/internal/health"
	"docpipe/internal/history"
	"docpipe/internal/job"
	"docpipe/internal/progress"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to disk.
const multipartMemory = 32 << 20

// Jobs runs and tracks pipeline jobs.
type Jobs interface {
	Prepare(ctx context.Context, req *job.Request, uploads []job.Upload) (*job.Job, error)
	Run(ctx context.Context, j *job.Job) *progress.Stream
	Cancel(jobID string) error
	List() *job.ListResponse
	OutputPath(jobID, name string) (string, error)
}

// Dependencies reports and installs optional capabilities.
type Dependencies interface {
	Status() depgate.Status
	Install(ctx context.Context, name string) (depgate.Dependency, error)
	AutoInstall() bool
}

// Engines exposes the inference engine registry.
type Engines interface {
	Snapshot() []engine.Info
	Info(kind engine.Kind) (engine.Info, error)
	StopIdle(ctx context.Context, kind engine.Kind) error
}

// Handler contains HTTP handlers for the docpipe API.
type Handler struct {
	jobs           Jobs
	deps           Dependencies
	engines        Engines
	history        history.Store
	health         *health.Checker
	spoolDir       string
	maxUploadBytes int64
}

// HandlerConfig holds the collaborators of a Handler.
type HandlerConfig struct {
	Jobs           Jobs
	Dependencies   Dependencies
	Engines        Engines
	History        history.Store
	HealthChecker  *health.Checker
	SpoolDir       string // temporary location for uploads before they are staged
	MaxUploadBytes int64
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		jobs:           cfg.Jobs,
		deps:           cfg.Dependencies,
		engines:        cfg.Engines,
		history:        cfg.History,
		health:         cfg.HealthChecker,
		spoolDir:       cfg.SpoolDir,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// CreateJob handles POST /v1/jobs. Validation failures are answered with a
// JSON error; an accepted job is answered with an NDJSON progress stream that
// ends with a done or error record.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := parseRequest(r.MultipartForm.Value)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	uploads, err := h.spoolUploads(r.MultipartForm.File["files"])
	defer removeUploads(uploads)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	j, err := h.jobs.Prepare(r.Context(), req, uploads)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	stream := h.jobs.Run(r.Context(), j)
	h.streamEvents(w, r, stream)
}

// streamEvents writes each event as one JSON line and flushes it. After the
// client goes away the stream is still drained so the job can finish its
// cleanup.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, stream *progress.Stream) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	logger := slog.With("jobId", stream.JobID())
	connected := true

	for ev := range stream.Events() {
		if !connected {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			logger.Warn("Client disconnected from progress stream", "error", err)
			connected = false
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logger.Warn("Failed to flush progress record", "error", err)
			connected = false
		}
	}
}

// parseRequest builds a job request from multipart form values.
func parseRequest(form map[string][]string) (*job.Request, error) {
	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	getBool := func(key string) (bool, error) {
		v := get(key)
		if v == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, apperrors.Validation(key, fmt.Sprintf("invalid boolean %q", v))
		}
		return b, nil
	}

	req := &job.Request{
		ID:   get("id"),
		Mode: job.Mode(get("mode")),
		Options: job.Options{
			Model:        get("model"),
			CustomPrompt: get("customPrompt"),
			ImageFormat:  strings.ToLower(get("imageFormat")),
		},
	}

	var err error
	if req.Options.UseCoordinates, err = getBool("useCoordinates"); err != nil {
		return nil, err
	}
	if req.Options.JoinImages, err = getBool("joinImages"); err != nil {
		return nil, err
	}
	if req.Options.UseNative, err = getBool("useNative"); err != nil {
		return nil, err
	}
	if req.Options.PageOrder, err = job.ParsePageOrder(get("pageOrder")); err != nil {
		return nil, err
	}

	if url := get("callbackUrl"); url != "" {
		req.Callback = &job.Callback{URL: url, Key: get("callbackKey")}
		if events := get("callbackEvents"); events != "" {
			for _, e := range strings.Split(events, ",") {
				if e = strings.TrimSpace(e); e != "" {
					req.Callback.Events = append(req.Callback.Events, e)
				}
			}
		}
	}
	return req, nil
}

// spoolUploads copies uploaded parts into temporary files the executor can
// move into the job's upload directory.
func (h *Handler) spoolUploads(files []*multipart.FileHeader) ([]job.Upload, error) {
	uploads := make([]job.Upload, 0, len(files))
	for _, fh := range files {
		u, err := h.spool(fh)
		if err != nil {
			return uploads, apperrors.Internal("api.spoolUpload", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func (h *Handler) spool(fh *multipart.FileHeader) (job.Upload, error) {
	src, err := fh.Open()
	if err != nil {
		return job.Upload{}, err
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.spoolDir, "upload-*")
	if err != nil {
		return job.Upload{}, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		return job.Upload{}, err
	}
	return job.Upload{Name: fh.Filename, Path: dst.Name(), Size: n}, nil
}

// removeUploads deletes spooled files the executor did not take.
func removeUploads(uploads []job.Upload) {
	for _, u := range uploads {
		if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove spooled upload", "path", u.Path, "error", err)
		}
	}
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.jobs.List())
}

// GetJob handles GET /v1/jobs/{jobId}. Active jobs report their stage;
// finished jobs report their history record.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	for _, st := range h.jobs.List().Jobs {
		if st.ID == jobID {
			h.writeJSON(w, http.StatusOK, st)
			return
		}
	}

	rec, err := h.history.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// DeleteJob handles DELETE /v1/jobs/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Cancel(r.PathValue("jobId")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListHistory handles GET /v1/jobs/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	records, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []job.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

// ListDependencies handles GET /v1/dependencies
func (h *Handler) ListDependencies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.deps.Status())
}

// InstallDependency handles POST /v1/dependencies/{name}/install. Installs
// are refused unless automatic installation is enabled.
func (h *Handler) InstallDependency(w http.ResponseWriter, r *http.Request) {
	if !h.deps.AutoInstall() {
		h.writeError(w, http.StatusForbidden, "Dependency installation is disabled")
		return
	}
	dep, err := h.deps.Install(r.Context(), r.PathValue("name"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dep)
}

// ListEngines handles GET /v1/engines
func (h *Handler) ListEngines(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"engines": h.engines.Snapshot()})
}

// StopEngine handles POST /v1/engines/{kind}/stop. An engine in use by a
// job is not stopped.
func (h *Handler) StopEngine(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("kind")
	kind, ok := engine.ParseKind(name)
	if !ok {
		h.handleError(w, r, apperrors.NotFound("engine", name))
		return
	}
	if err := h.engines.StopIdle(r.Context(), kind); err != nil {
		h.handleError(w, r, err)
		return
	}
	info, err := h.engines.Info(kind)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// DownloadFile handles GET /files/{jobId}/{name}
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.jobs.OutputPath(r.PathValue("jobId"), r.PathValue("name"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when a critical check fails or the service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps an error to its HTTP status and a JSON body carrying the
// message and a machine-readable code.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error(), "code": apperrors.Code(err)})
}
