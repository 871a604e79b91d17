package job

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. Jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job: duplicate id %q", j.ID)
	}
	s.jobs[j.ID] = j
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if f.Match(j) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b Job) int {
		return cmp.Or(a.FireTime.Compare(b.FireTime), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, id string) (Job, error) {
	return s.transition(id, StatusPending, ErrConflict, func(j *Job) {
		j.Status = StatusProcessing
		j.Attempts++
	})
}

// Cancel implements Store.
func (s *MemoryStore) Cancel(_ context.Context, id string, now time.Time) (Job, error) {
	return s.transition(id, StatusPending, ErrNotFoundOrTerminal, func(j *Job) {
		j.Status = StatusCancelled
		j.CompletedAt = &now
	})
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, id string, result json.RawMessage, now time.Time) (Job, error) {
	return s.transition(id, StatusProcessing, ErrConflict, func(j *Job) {
		j.Status = StatusCompleted
		j.Result = result
		j.CompletedAt = &now
	})
}

// Retry implements Store.
func (s *MemoryStore) Retry(_ context.Context, id string, fireTime time.Time, lastErr string) (Job, error) {
	return s.transition(id, StatusProcessing, ErrConflict, func(j *Job) {
		j.Status = StatusPending
		j.FireTime = fireTime
		j.LastError = lastErr
	})
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, id string, lastErr string, now time.Time) (Job, error) {
	return s.transition(id, StatusProcessing, ErrConflict, func(j *Job) {
		j.Status = StatusFailed
		j.LastError = lastErr
		j.CompletedAt = &now
	})
}

// DeleteTerminalBefore implements Store.
func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// transition applies mutate if the job is in status from. A missing job
// yields ErrNotFound unless mismatch is ErrNotFoundOrTerminal.
func (s *MemoryStore) transition(id string, from Status, mismatch error, mutate func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		if mismatch == ErrNotFoundOrTerminal {
			return Job{}, mismatch
		}
		return Job{}, ErrNotFound
	}
	if j.Status != from {
		return Job{}, mismatch
	}
	mutate(&j)
	s.jobs[id] = j
	return j, nil
}
