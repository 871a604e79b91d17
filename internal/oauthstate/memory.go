package oauthstate

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps states in process memory. It is suitable for tests and
// single-instance deployments that can afford to lose pending flows on
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Metadata = maps.Clone(rec.Metadata)
	s.records[rec.Token] = rec
	return nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, c Claim) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[c.Token]
	if !ok || !c.Matches(rec) {
		return Record{}, ErrNoMatch
	}
	if rec.Used {
		return Record{}, ErrConsumed
	}
	rec.Used = true
	s.records[c.Token] = rec
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, rec := range s.records {
		if rec.ExpiresAt.Before(before) {
			delete(s.records, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
