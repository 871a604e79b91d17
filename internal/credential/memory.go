package credential

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[Key]Credential
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[Key]Credential)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, platform, accountID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[Key{platform, accountID}]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.creds[c.Key()]; ok && !old.CreatedAt.IsZero() {
		c.CreatedAt = old.CreatedAt
	}
	s.creds[c.Key()] = c
	return nil
}

// UpdateToken implements Store.
func (s *MemoryStore) UpdateToken(_ context.Context, platform, accountID string, u TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := Key{platform, accountID}
	c, ok := s.creds[k]
	if !ok {
		return ErrNotFound
	}
	refreshed := u.RefreshedAt
	c.AccessToken = u.AccessToken
	c.RefreshToken = u.RefreshToken
	c.ExpiresAt = u.ExpiresAt
	c.LastRefreshedAt = &refreshed
	c.UpdatedAt = refreshed
	s.creds[k] = c
	return nil
}

// SetStatus implements Store.
func (s *MemoryStore) SetStatus(_ context.Context, platform, accountID string, status Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := Key{platform, accountID}
	c, ok := s.creds[k]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = now
	s.creds[k] = c
	return nil
}

// ListByOwner implements Store.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Credential, error) {
	return s.filter(func(c Credential) bool { return c.OwnerID == ownerID }, byKey), nil
}

// ListExpiring implements Store.
func (s *MemoryStore) ListExpiring(_ context.Context, from, to time.Time) ([]Credential, error) {
	return s.filter(func(c Credential) bool {
		return c.Status == StatusActive && c.ExpiresAt != nil &&
			!c.ExpiresAt.Before(from) && !c.ExpiresAt.After(to)
	}, func(a, b Credential) int {
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	}), nil
}

// ListActive implements Store.
func (s *MemoryStore) ListActive(_ context.Context) ([]Credential, error) {
	return s.filter(func(c Credential) bool { return c.Status == StatusActive }, func(a, b Credential) int {
		return cmp.Or(cmp.Compare(a.OwnerID, b.OwnerID), byKey(a, b))
	}), nil
}

func (s *MemoryStore) filter(keep func(Credential) bool, order func(a, b Credential) int) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.creds {
		if keep(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, order)
	return out
}

func byKey(a, b Credential) int {
	return cmp.Or(cmp.Compare(a.Platform, b.Platform), cmp.Compare(a.AccountID, b.AccountID))
}
