package connector

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultRefreshThreshold is how close to expiry a token must be before
// it is refreshed, unless the platform overrides it.
const DefaultRefreshThreshold = 5 * time.Minute

type entry struct {
	conn      Connector
	threshold time.Duration
}

// Registry maps platform names to connectors and their refresh thresholds.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds c. A non-positive threshold selects the default.
func (r *Registry) Register(c Connector, threshold time.Duration) error {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Platform()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlatform, name)
	}
	r.entries[name] = entry{conn: c, threshold: threshold}
	return nil
}

// Get returns the connector for platform.
func (r *Registry) Get(platform string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return e.conn, nil
}

// Threshold returns the refresh threshold for platform.
func (r *Registry) Threshold(platform string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[platform]; ok {
		return e.threshold
	}
	return DefaultRefreshThreshold
}

// Platforms returns the registered platform names, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
