// Package health provides liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckFunc reports whether a component is usable.
type CheckFunc func(ctx context.Context) error

// Check is a named readiness check. A failing critical check makes the
// service unhealthy; a failing optional one only degrades it.
type Check struct {
	Name     string
	Critical bool
	Fn       CheckFunc
}

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy reports whether the service should receive traffic. A degraded
// service still accepts jobs.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// Checker runs readiness checks, caching results briefly.
type Checker struct {
	checks  []Check
	timeout time.Duration
	ttl     time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a checker over checks, run in name order.
func NewChecker(checks ...Check) *Checker {
	sorted := append([]Check(nil), checks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Checker{
		checks:  sorted,
		timeout: 5 * time.Second,
		ttl:     time.Second,
	}
}

// Liveness reports that the process is up. It checks nothing external.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness runs every check and combines the results.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.ttl {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(c.checks))}
	for _, check := range c.checks {
		result := c.run(ctx, check)
		response.Checks[check.Name] = result
		switch {
		case result.Status == StatusHealthy:
		case check.Critical:
			response.Status = StatusUnhealthy
		case response.Status == StatusHealthy:
			response.Status = StatusDegraded
		}
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()
	return response
}

func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.Fn(ctx); err != nil {
		status := StatusDegraded
		if check.Critical {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// SetShuttingDown makes readiness fail from now on so load balancers stop
// sending new jobs while running ones drain.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}

// BinaryCheck verifies an executable can be found.
func BinaryCheck(binary string) CheckFunc {
	return func(context.Context) error {
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("%s not found: %w", binary, err)
		}
		return nil
	}
}

// WritableDirCheck verifies dir exists and accepts new files.
func WritableDirCheck(dir string) CheckFunc {
	return func(context.Context) error {
		f, err := os.CreateTemp(dir, ".readyz-*")
		if err != nil {
			return fmt.Errorf("data directory not writable: %w", err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(filepath.Clean(name))
	}
}
