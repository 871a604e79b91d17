// Package keylock serializes work per key while letting different keys
// proceed in parallel.
package keylock

import "sync"

// Map hands out one mutex per key. Entries are reference counted and
// removed once no goroutine holds or waits on them, so the map does not
// grow with the number of keys ever seen.
type Map[K comparable] struct {
	mu    sync.Mutex
	lanes map[K]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

// New creates a ready-to-use Map.
func New[K comparable]() *Map[K] {
	return &Map[K]{lanes: make(map[K]*lane)}
}

// Lock acquires the mutex for key. The returned func releases it.
func (m *Map[K]) Lock(key K) (unlock func()) {
	m.mu.Lock()
	ln, ok := m.lanes[key]
	if !ok {
		ln = &lane{}
		m.lanes[key] = ln
	}
	ln.refs++
	m.mu.Unlock()

	// Lock outside the map mutex so other keys are not blocked.
	ln.mu.Lock()

	return func() {
		m.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(m.lanes, key)
		}
		m.mu.Unlock()
		ln.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}
