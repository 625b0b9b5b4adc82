// Package history keeps the outcome of finished jobs.
package history

import (
	"context"

	"docpipe/internal/job"
)

// Store persists job records, newest first.
type Store interface {
	Record(ctx context.Context, rec job.Record) error
	List(ctx context.Context, limit int) ([]job.Record, error)
	Get(ctx context.Context, id string) (job.Record, error)
	Close()
}
