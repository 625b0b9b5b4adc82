// Package pipeline runs document jobs through their stage plans, supervising
// the engine and worker stages each job needs and always cleaning up after it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/apperrors"
	"docpipe/internal/depgate"
	"docpipe/internal/engine"
	"docpipe/internal/job"
	"docpipe/internal/progress"
	"docpipe/internal/worker"
)

// EngineManager brings inference engines up for the jobs that need them.
type EngineManager interface {
	Acquire(ctx context.Context, kind engine.Kind) error
	Release(ctx context.Context, kind engine.Kind)
	APIBase(kind engine.Kind) string
}

// DependencyGate resolves optional system capabilities.
type DependencyGate interface {
	Ensure(ctx context.Context, name string) (depgate.Dependency, error)
}

// StageRunner executes one worker stage.
type StageRunner interface {
	Run(ctx context.Context, spec worker.StageSpec, onUpdate func(worker.Update)) error
}

// Recorder stores the outcome of finished jobs.
type Recorder interface {
	Record(ctx context.Context, rec job.Record) error
}

// Notifier delivers terminal job events to a job's callback.
type Notifier interface {
	Notify(rec job.Record, cb *job.Callback)
}

// Publisher receives every progress event of every job.
type Publisher interface {
	Publish(ev progress.Event)
}

// MetricsRecorder receives job and stage measurements.
type MetricsRecorder interface {
	RecordJobStarted(ctx context.Context, mode string)
	RecordJobFinished(ctx context.Context, mode, state string, duration time.Duration)
	RecordStage(ctx context.Context, mode, stage string, duration time.Duration, err error)
	RecordFallback(ctx context.Context, mode string)
	RecordCleanupFailure(ctx context.Context)
}

// Deps are the collaborators of an Executor. Engines, Gate and Runner are
// required; the rest are optional.
type Deps struct {
	Engines   EngineManager
	Gate      DependencyGate
	Runner    StageRunner
	Pages     PageCounter
	History   Recorder
	Notifier  Notifier
	Publisher Publisher
	Metrics   MetricsRecorder
}

// Executor runs jobs. Each job runs on its own goroutine; stages within a job
// run strictly in order.
type Executor struct {
	cfg  Config
	deps Deps

	active *activeJobs
	now    func() time.Time

	cancelMaintenance context.CancelFunc

	mu     sync.Mutex // guards closed and admissions to jobs
	closed bool
	jobs   sync.WaitGroup
	maintenance       sync.WaitGroup
}

// NewExecutor creates an executor and starts the output retention sweeper.
func NewExecutor(cfg Config, deps Deps) (*Executor, error) {
	if deps.Engines == nil || deps.Gate == nil || deps.Runner == nil {
		return nil, fmt.Errorf("engines, dependency gate and stage runner are required")
	}
	if deps.Pages == nil {
		deps.Pages = PDFPageCounter{}
	}
	cfg = cfg.withDefaults()
	for _, dir := range []string{uploadsDir, workDir, outputsDir} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	e := &Executor{
		cfg:    cfg,
		deps:   deps,
		active: newActiveJobs(),
		now:    time.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMaintenance = cancel
	e.maintenance.Add(1)
	go func() {
		defer e.maintenance.Done()
		e.runMaintenance(ctx, cfg.MaintenanceInterval)
	}()
	return e, nil
}

// Prepare validates a request and stages its uploads into job-scoped
// directories. Request validation happens before anything is written; a
// content validation failure removes everything Prepare created. A prepared
// job holds the executor open until it is passed to Run. Once Close has been
// called Prepare fails with ErrUnavailable.
func (e *Executor) Prepare(ctx context.Context, req *job.Request, uploads []job.Upload) (*job.Job, error) {
	job.ApplyDefaults(req)
	if err := job.Validate(req); err != nil {
		return nil, err
	}
	names := make([]string, len(uploads))
	for i, u := range uploads {
		names[i] = u.Name
	}
	if err := job.ValidateInputs(req.Mode, names); err != nil {
		return nil, err
	}

	if err := e.admit(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := e.active.reserve(id); err != nil {
		e.jobs.Done()
		return nil, err
	}

	uploadDir, work, output := e.jobDirs(id)
	if _, err := os.Stat(output); err == nil {
		e.active.release(id)
		e.jobs.Done()
		return nil, apperrors.Conflict("job", id, fmt.Sprintf("job %s still has retained outputs", id))
	}
	j := &job.Job{
		ID:        id,
		Mode:      req.Mode,
		Options:   req.Options,
		Callback:  req.Callback,
		UploadDir: uploadDir,
		WorkDir:   work,
		OutputDir: output,
		CreatedAt: e.now(),
		Stage:     job.StageUpload,
	}

	fail := func(err error) (*job.Job, error) {
		e.removeDirs(j, true)
		e.active.release(id)
		e.jobs.Done()
		return nil, err
	}

	for _, dir := range []string{uploadDir, work, output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(apperrors.Internal("pipeline.createDirs", err))
		}
	}
	paths, err := stageUploads(uploadDir, uploads)
	if err != nil {
		return fail(err)
	}
	j.InputFiles = paths

	if err := e.validateContent(j); err != nil {
		return fail(err)
	}

	slog.With("jobId", id, "mode", j.Mode, "files", len(paths)).Info("Job prepared")
	return j, nil
}

// validateContent checks staged files beyond their names.
func (e *Executor) validateContent(j *job.Job) error {
	for _, path := range j.InputFiles {
		if job.KindOf(path) == job.KindPDF {
			if err := checkPDF(path); err != nil {
				return err
			}
		}
	}
	if j.Mode == job.ModeSplit {
		count, err := e.deps.Pages.PageCount(j.InputFiles[0])
		if err != nil {
			return apperrors.Validation("files", fmt.Sprintf("cannot read %s: %v", filepath.Base(j.InputFiles[0]), err))
		}
		if err := job.ValidatePageOrder(j.Options.PageOrder, count); err != nil {
			return err
		}
	}
	return nil
}

// Run starts a prepared job and returns its progress stream. The job is
// cancelled when ctx ends; cleanup still runs.
func (e *Executor) Run(ctx context.Context, j *job.Job) *progress.Stream {
	var observers []progress.Observer
	if e.deps.Publisher != nil {
		observers = append(observers, e.deps.Publisher.Publish)
	}
	stream := progress.NewStream(j.ID, e.cfg.StreamBuffer, observers...)

	runCtx, cancel := context.WithCancel(ctx)
	a := &activeJob{job: j, cancel: cancel, stage: job.StageUpload}
	e.active.commit(j.ID, a)

	go func() {
		defer e.jobs.Done()
		defer cancel()
		defer stream.Close()
		e.execute(runCtx, a, stream)
	}()
	return stream
}

// Submit prepares and runs a job in one call.
func (e *Executor) Submit(ctx context.Context, req *job.Request, uploads []job.Upload) (*progress.Stream, error) {
	j, err := e.Prepare(ctx, req, uploads)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, j), nil
}

// Cancel stops a running job. Its cleanup still runs.
func (e *Executor) Cancel(jobID string) error {
	a, ok := e.active.get(jobID)
	if !ok || a == nil {
		return apperrors.NotFound("job", jobID)
	}
	a.cancel()
	slog.With("jobId", jobID).Info("Job cancellation requested")
	return nil
}

// List returns the active jobs.
func (e *Executor) List() *job.ListResponse {
	return &job.ListResponse{Jobs: e.active.statuses()}
}

// ActiveCount returns the number of jobs currently held by the executor.
func (e *Executor) ActiveCount() int {
	return e.active.count()
}

// admit counts a new job against the executor unless it is closing.
func (e *Executor) admit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperrors.Unavailable("pipeline.prepare", "executor is shutting down")
	}
	e.jobs.Add(1)
	return nil
}

// Close stops accepting jobs, stops maintenance and waits for running jobs
// until ctx ends.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancelMaintenance()
	e.maintenance.Wait()

	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, s := range e.active.statuses() {
			_ = e.Cancel(s.ID)
		}
		<-done
		return ctx.Err()
	}
}

// run carries the mutable state of one job execution.
type run struct {
	active *activeJob
	job    *job.Job
	stream *progress.Stream
	logger *slog.Logger

	acquired     *engine.Kind
	fallbackUsed bool
	result       progress.Event // complete event payload
	artifacts    []string

	cleanupOnce sync.Once
}

// emit sends an event, logging when the consumer has gone away.
func (rt *run) emit(ctx context.Context, ev progress.Event) {
	if err := rt.stream.Emit(ctx, ev); err != nil && !errors.Is(err, progress.ErrClosed) {
		rt.logger.Debug("Progress event not delivered", "status", ev.Status, "error", err)
	}
}

func (rt *run) setStage(s job.Stage) {
	rt.job.Stage = s
	rt.active.setStage(s)
}

// execute drives one job to its terminal event and guarantees cleanup.
func (e *Executor) execute(ctx context.Context, a *activeJob, stream *progress.Stream) {
	j := a.job
	rt := &run{
		active: a,
		job:    j,
		stream: stream,
		logger: slog.With("jobId", j.ID, "mode", j.Mode),
	}
	start := e.now()
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordJobStarted(ctx, string(j.Mode))
	}
	rt.logger.Info("Job started", "files", len(j.InputFiles))

	rt.emit(ctx, progress.WithProgress(progress.StatusUploading, fmt.Sprintf("Received %d file(s)", len(j.InputFiles)), 0))

	err := e.runPlanSafely(ctx, rt)

	// Final records are delivered even after cancellation so a consumer that
	// is still reading learns how the job ended.
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CleanupTimeout)
	defer cancel()

	if err == nil {
		j.Terminal = job.TerminalCompleted
		complete := rt.result
		complete.Status = progress.StatusComplete
		complete.FallbackUsed = rt.fallbackUsed
		if complete.Message == "" {
			complete.Message = "Processing complete"
		}
		p := 100
		complete.Progress = &p
		rt.emit(endCtx, complete)

		rt.setStage(job.StageCleanup)
		rt.emit(endCtx, progress.New(progress.StatusCleanup, "Cleaning up"))
		e.cleanup(rt)
		rt.emit(endCtx, progress.New(progress.StatusDone, "Done"))
	} else {
		j.Terminal = job.TerminalFailed
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			j.Terminal = job.TerminalCancelled
		}
		rt.emit(endCtx, progress.Failed(failureMessage(j.Terminal, err), err))
		rt.setStage(job.StageCleanup)
		e.cleanup(rt)
	}

	e.finish(rt, start, err)
}

// runPlanSafely converts a panic in any stage into an internal error.
func (e *Executor) runPlanSafely(ctx context.Context, rt *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			rt.logger.Error("Job panicked", "panic", p, "stack", string(debug.Stack()))
			err = apperrors.Internal("pipeline.run", fmt.Errorf("panic: %v", p))
		}
	}()
	if err := e.runPlan(ctx, rt); err != nil {
		return err
	}
	// A cancellation that raced the last stage still fails the job.
	return ctx.Err()
}

func failureMessage(state job.TerminalState, err error) string {
	switch {
	case state == job.TerminalCancelled:
		return "Job cancelled"
	case errors.Is(err, apperrors.ErrEngineStartupTimeout):
		return "OCR engine failed to start"
	case errors.Is(err, apperrors.ErrDependencyMissing):
		return "Required dependency is missing"
	case errors.Is(err, apperrors.ErrStageTimeout):
		return "Processing timed out"
	case errors.Is(err, apperrors.ErrWorkerFailure):
		return "Processing failed"
	default:
		return "Job failed"
	}
}

// cleanup releases the job's engine and removes its temporary directories.
// It runs once per job with its own deadline, independent of the job context.
func (e *Executor) cleanup(rt *run) {
	rt.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CleanupTimeout)
		defer cancel()

		if rt.acquired != nil {
			e.deps.Engines.Release(ctx, *rt.acquired)
			rt.acquired = nil
		}
		if err := e.removeDirs(rt.job, false); err != nil {
			rt.logger.Warn("Cleanup failed", "error", apperrors.Cleanup("removeDirs", err))
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordCleanupFailure(ctx)
			}
		}
	})
}

// removeDirs deletes a job's upload and work directories, and its output
// directory too when withOutputs is set.
func (e *Executor) removeDirs(j *job.Job, withOutputs bool) error {
	dirs := []string{j.UploadDir, j.WorkDir}
	if withOutputs {
		dirs = append(dirs, j.OutputDir)
	}
	var errs []error
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// finish records the job outcome and frees its active slot.
func (e *Executor) finish(rt *run, start time.Time, err error) {
	j := rt.job
	finished := e.now()
	rec := job.Record{
		ID:           j.ID,
		Mode:         j.Mode,
		State:        j.Terminal,
		Files:        len(j.InputFiles),
		FallbackUsed: rt.fallbackUsed,
		Artifacts:    rt.artifacts,
		CreatedAt:    j.CreatedAt,
		FinishedAt:   finished,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorCode = apperrors.Code(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CleanupTimeout)
	defer cancel()

	if e.deps.History != nil {
		if herr := e.deps.History.Record(ctx, rec); herr != nil {
			rt.logger.Warn("Failed to record job history", "error", herr)
		}
	}
	if e.deps.Notifier != nil && j.Callback != nil {
		e.deps.Notifier.Notify(rec, j.Callback)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordJobFinished(ctx, string(j.Mode), string(j.Terminal), finished.Sub(start))
	}

	e.active.release(j.ID)

	logger := rt.logger.With("state", j.Terminal, "duration", finished.Sub(start))
	if err != nil {
		logger.Warn("Job finished", "error", err)
	} else {
		logger.Info("Job finished")
	}
}

// runMaintenance periodically removes expired job outputs.
func (e *Executor) runMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanupExpiredOutputs()
		}
	}
}

// cleanupExpiredOutputs removes output directories of finished jobs older
// than the retention period, along with any orphaned upload or work dirs.
func (e *Executor) cleanupExpiredOutputs() {
	logger := slog.With("component", "maintenance")
	cutoff := e.now().Add(-e.cfg.RetentionPeriod)

	var removed int
	for _, sub := range []string{outputsDir, uploadsDir, workDir} {
		root := filepath.Join(e.cfg.DataDir, sub)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || e.active.has(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
				logger.Warn("Failed to remove expired job directory", "jobId", entry.Name(), "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Info("Removed expired job directories", "count", removed)
	}
}
