package pipeline

import (
	"context"
	"sort"
	"sync"

	"docpipe/internal/apperrors"
	"docpipe/internal/job"
)

// activeJob is the runtime state for a job between Prepare and its terminal event.
type activeJob struct {
	job    *job.Job
	cancel context.CancelFunc

	mu    sync.Mutex
	stage job.Stage
}

func (a *activeJob) setStage(s job.Stage) {
	a.mu.Lock()
	a.stage = s
	a.mu.Unlock()
}

func (a *activeJob) status() job.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return job.Status{
		ID:        a.job.ID,
		Mode:      a.job.Mode,
		Stage:     a.stage,
		Files:     len(a.job.InputFiles),
		CreatedAt: a.job.CreatedAt,
	}
}

// activeJobs tracks running jobs with thread-safe access.
type activeJobs struct {
	mu   sync.RWMutex
	jobs map[string]*activeJob
}

func newActiveJobs() *activeJobs {
	return &activeJobs{jobs: make(map[string]*activeJob)}
}

// reserve claims a job ID. The slot holds nil until commit.
func (r *activeJobs) reserve(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[jobID]; exists {
		return apperrors.Conflict("job", jobID, "job already exists")
	}
	r.jobs[jobID] = nil
	return nil
}

// commit fills a reserved slot.
func (r *activeJobs) commit(jobID string, a *activeJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobID] = a
}

// release removes a job. Returns the state if it existed.
func (r *activeJobs) release(jobID string) (*activeJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.jobs[jobID]
	if exists {
		delete(r.jobs, jobID)
	}
	return a, exists
}

// get returns (nil, true) for a reserved but uncommitted job.
func (r *activeJobs) get(jobID string) (*activeJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, exists := r.jobs[jobID]
	return a, exists
}

// has reports whether jobID is reserved or running.
func (r *activeJobs) has(jobID string) bool {
	_, ok := r.get(jobID)
	return ok
}

// statuses returns committed jobs ordered by creation time.
func (r *activeJobs) statuses() []job.Status {
	r.mu.RLock()
	out := make([]job.Status, 0, len(r.jobs))
	for _, a := range r.jobs {
		if a != nil {
			out = append(out, a.status())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// count returns the number of reserved and running jobs.
func (r *activeJobs) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
