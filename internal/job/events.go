package job

import (
	"sync"
	"time"
)

// Event reports a job after a state change.
type Event struct {
	Job Job       `json:"job"`
	At  time.Time `json:"at"`
}

// broker fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type broker struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// closeAll closes and drops every subscriber. Their unsubscribe funcs
// become no-ops.
func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broker) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
