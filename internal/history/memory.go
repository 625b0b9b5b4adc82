package history

import (
	"context"
	"sync"

	"docpipe/internal/apperrors"
	"docpipe/internal/job"
)

// MemoryStore keeps the most recent records in a fixed-size ring.
type MemoryStore struct {
	mu    sync.RWMutex
	ring  []job.Record
	next  int
	full  bool
	index map[string]int
}

// NewMemoryStore creates a store holding up to limit records.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 500
	}
	return &MemoryStore{
		ring:  make([]job.Record, limit),
		index: make(map[string]int, limit),
	}
}

// Record stores rec, replacing an earlier record with the same ID.
func (s *MemoryStore) Record(_ context.Context, rec job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[rec.ID]; ok {
		s.ring[i] = rec
		return nil
	}
	if s.full {
		delete(s.index, s.ring[s.next].ID)
	}
	s.ring[s.next] = rec
	s.index[rec.ID] = s.next
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// List returns up to limit records, most recently recorded first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]job.Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

// Get returns the record for id.
func (s *MemoryStore) Get(_ context.Context, id string) (job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return s.ring[i], nil
	}
	return job.Record{}, apperrors.NotFound("job", id)
}

// Close is a no-op.
func (s *MemoryStore) Close() {}
