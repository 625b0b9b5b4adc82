package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"docpipe/internal/apperrors"
	"docpipe/pkg/circuitbreaker"
)

// MetricsRecorder receives engine lifecycle measurements.
type MetricsRecorder interface {
	RecordEngineStart(ctx context.Context, kind string, duration time.Duration, ok bool)
	RecordEngineShutdown(ctx context.Context, kind string)
}

// Info is a point-in-time view of one engine.
type Info struct {
	Kind      Kind   `json:"kind"`
	APIBase   string `json:"endpoint"`
	HealthURL string `json:"healthUrl"`
	State     State  `json:"state"`
	Refs      int    `json:"refs"`
	Spawns    int    `json:"spawns"`
	Breaker   string `json:"breaker"`
}

// handle is the shared state for one engine kind.
type handle struct {
	kind     Kind
	cfg      KindConfig
	launcher Launcher
	breaker  *circuitbreaker.Breaker

	// transition serializes start and stop for this kind.
	transition sync.Mutex

	mu     sync.Mutex
	state  State
	refs   int
	spawns int
}

func (h *handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *handle) getState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Registry owns one handle per engine kind.
type Registry struct {
	cfg     Config
	prober  Prober
	handles map[Kind]*handle
	flights singleflight.Group
	metrics MetricsRecorder
}

// NewRegistry creates a registry. launchers supplies the launcher for each
// configured kind; kinds without one cannot be started.
func NewRegistry(cfg Config, prober Prober, launchers map[Kind]Launcher, metrics MetricsRecorder) *Registry {
	cfg = cfg.withDefaults()
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
	})
	r := &Registry{
		cfg:     cfg,
		prober:  prober,
		handles: make(map[Kind]*handle, len(cfg.Kinds)),
		metrics: metrics,
	}
	for kind, kc := range cfg.Kinds {
		r.handles[kind] = &handle{
			kind:     kind,
			cfg:      kc,
			launcher: launchers[kind],
			breaker:  breakers.Get(string(kind)),
			state:    StateStopped,
		}
	}
	return r
}

// NewLaunchers builds the launcher for each configured kind: a Docker
// container launcher when a container name is set, a process launcher otherwise.
func NewLaunchers(cfg Config) (map[Kind]Launcher, error) {
	cfg = cfg.withDefaults()
	launchers := make(map[Kind]Launcher, len(cfg.Kinds))
	for kind, kc := range cfg.Kinds {
		if kc.Container != "" {
			l, err := NewDockerLauncher(kind, kc.Container, int(cfg.StopGrace.Seconds()))
			if err != nil {
				return nil, err
			}
			launchers[kind] = l
			continue
		}
		launchers[kind] = NewProcessLauncher(kind, kc.Command, kc.Args, kc.Match, cfg.StopGrace)
	}
	return launchers, nil
}

func (r *Registry) handle(kind Kind) (*handle, error) {
	h, ok := r.handles[kind]
	if !ok {
		return nil, apperrors.NotFound("engine", string(kind))
	}
	return h, nil
}

// APIBase returns the OpenAI-compatible base URL of an engine.
func (r *Registry) APIBase(kind Kind) string {
	if h, ok := r.handles[kind]; ok {
		return h.cfg.APIBase
	}
	return ""
}

// EnsureReady brings an engine to Ready.
//
// A healthy engine returns immediately. Otherwise concurrent callers for the
// same kind share a single start attempt: launch, then poll the health
// endpoint at a fixed interval. Exhausting the attempts stops whatever was
// launched and returns EngineStartupTimeout. A caller whose ctx ends stops
// waiting without aborting the shared attempt.
func (r *Registry) EnsureReady(ctx context.Context, kind Kind) error {
	h, err := r.handle(kind)
	if err != nil {
		return err
	}

	if h.getState() != StateStopping && r.probe(ctx, h) == nil {
		h.setState(StateReady)
		return nil
	}

	if !h.breaker.Allow() {
		return &apperrors.Error{
			Sentinel: apperrors.ErrEngineStartupTimeout,
			Message:  fmt.Sprintf("engine %s failed to start repeatedly, not retrying for %s", kind, h.breaker.RetryAfter().Round(time.Second)),
			Resource: string(kind),
			Op:       "engine.ensureReady",
		}
	}

	ch := r.flights.DoChan(string(kind), func() (any, error) {
		return nil, r.start(context.WithoutCancel(ctx), h)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) start(ctx context.Context, h *handle) error {
	h.transition.Lock()
	defer h.transition.Unlock()

	logger := slog.With("engine", h.kind)

	// Another caller may have started it while we waited for the lock.
	if r.probe(ctx, h) == nil {
		h.setState(StateReady)
		h.breaker.RecordSuccess()
		return nil
	}

	if h.launcher == nil {
		h.setState(StateStopped)
		h.breaker.RecordFailure()
		return apperrors.EngineStartupTimeout(string(h.kind), 0, fmt.Errorf("no launcher configured"))
	}

	h.setState(StateStarting)
	begin := time.Now()
	logger.Info("Starting engine", "attempts", h.cfg.Attempts, "interval", h.cfg.Interval)

	if err := h.launcher.Start(ctx); err != nil {
		logger.Error("Engine launch failed", "error", err)
		h.setState(StateStopped)
		h.breaker.RecordFailure()
		r.recordStart(ctx, h.kind, time.Since(begin), false)
		return apperrors.EngineStartupTimeout(string(h.kind), 0, err)
	}
	h.mu.Lock()
	h.spawns++
	h.mu.Unlock()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; attempt <= h.cfg.Attempts; attempt++ {
		<-ticker.C
		if lastErr = r.probe(ctx, h); lastErr == nil {
			h.setState(StateReady)
			h.breaker.RecordSuccess()
			r.recordStart(ctx, h.kind, time.Since(begin), true)
			logger.Info("Engine ready", "attempt", attempt, "duration", time.Since(begin))
			return nil
		}
		logger.Debug("Engine not ready yet", "attempt", attempt, "error", lastErr)
	}

	logger.Error("Engine did not become ready", "attempts", h.cfg.Attempts, "error", lastErr)
	stopCtx, cancel := context.WithTimeout(ctx, r.cfg.StopGrace+5*time.Second)
	if err := h.launcher.Stop(stopCtx); err != nil {
		logger.Warn("Failed to stop engine after startup timeout", "error", err)
	}
	cancel()
	h.setState(StateStopped)
	h.breaker.RecordFailure()
	r.recordStart(ctx, h.kind, time.Since(begin), false)
	return apperrors.EngineStartupTimeout(string(h.kind), h.cfg.Attempts, lastErr)
}

func (r *Registry) probe(ctx context.Context, h *handle) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	return r.prober.Probe(ctx, h.cfg.HealthURL)
}

// Shutdown stops an engine. Failures are logged, never returned.
func (r *Registry) Shutdown(ctx context.Context, kind Kind) {
	h, err := r.handle(kind)
	if err != nil {
		slog.Warn("Shutdown of unknown engine", "engine", kind)
		return
	}
	r.shutdown(ctx, h, false)
}

// StopIdle stops an engine that no job holds. It returns ErrConflict when
// the engine is in use; the check and the stop happen under one lock.
func (r *Registry) StopIdle(ctx context.Context, kind Kind) error {
	h, err := r.handle(kind)
	if err != nil {
		return err
	}
	if busy := r.shutdown(ctx, h, true); busy > 0 {
		return apperrors.Conflict("engine", string(kind), fmt.Sprintf("in use by %d job(s)", busy))
	}
	return nil
}

// shutdown stops h. When idleOnly is set it does nothing if a user holds a
// reference, checked under the transition lock so a concurrent Acquire
// either keeps the engine alive or waits for the stop and restarts it.
// It returns the reference count that prevented the stop, or zero.
func (r *Registry) shutdown(ctx context.Context, h *handle, idleOnly bool) int {
	h.transition.Lock()
	defer h.transition.Unlock()

	h.mu.Lock()
	if idleOnly && h.refs > 0 {
		refs := h.refs
		h.mu.Unlock()
		return refs
	}
	h.state = StateStopping
	h.mu.Unlock()

	logger := slog.With("engine", h.kind)
	if h.launcher != nil {
		if err := h.launcher.Stop(ctx); err != nil {
			logger.Warn("Engine shutdown failed", "error", err)
		} else {
			logger.Info("Engine stopped")
		}
	}
	h.setState(StateStopped)
	if r.metrics != nil {
		r.metrics.RecordEngineShutdown(ctx, string(h.kind))
	}
	return 0
}

// Acquire registers a user of an engine and brings it to Ready. The caller
// must call Release exactly once afterwards, whether or not Acquire failed.
func (r *Registry) Acquire(ctx context.Context, kind Kind) error {
	h, err := r.handle(kind)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
	return r.EnsureReady(ctx, kind)
}

// Release drops a user of an engine. Under PolicyRefCount the engine stops
// when the last user releases it; under PolicyAlways it stops every time.
func (r *Registry) Release(ctx context.Context, kind Kind) {
	h, err := r.handle(kind)
	if err != nil {
		return
	}
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	refs := h.refs
	h.mu.Unlock()

	switch r.cfg.Policy {
	case PolicyAlways:
		r.shutdown(ctx, h, false)
	default:
		if refs == 0 {
			r.shutdown(ctx, h, true)
		}
	}
}

// ShutdownAll stops every engine, used on service exit.
func (r *Registry) ShutdownAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, h := range r.handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			r.shutdown(ctx, h, false)
		}(h)
	}
	wg.Wait()
}

// Snapshot returns the state of every engine ordered by kind.
func (r *Registry) Snapshot() []Info {
	infos := make([]Info, 0, len(r.handles))
	for _, h := range r.handles {
		h.mu.Lock()
		infos = append(infos, Info{
			Kind:      h.kind,
			APIBase:   h.cfg.APIBase,
			HealthURL: h.cfg.HealthURL,
			State:     h.state,
			Refs:      h.refs,
			Spawns:    h.spawns,
			Breaker:   h.breaker.State().String(),
		})
		h.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

// Info returns the state of one engine.
func (r *Registry) Info(kind Kind) (Info, error) {
	for _, info := range r.Snapshot() {
		if info.Kind == kind {
			return info, nil
		}
	}
	return Info{}, apperrors.NotFound("engine", string(kind))
}

func (r *Registry) recordStart(ctx context.Context, kind Kind, d time.Duration, ok bool) {
	if r.metrics != nil {
		r.metrics.RecordEngineStart(ctx, string(kind), d, ok)
	}
}
