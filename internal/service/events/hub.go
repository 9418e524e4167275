package events

import (
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/z-recorder/backend/internal/service/ingest"
)

const subscriberBuffer = 32

// Hub fans session lifecycle events out to any number of subscribers. A subscriber
// that falls behind loses events rather than slowing ingestion down.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan ingest.Event
	nextID  int
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan ingest.Event)}
}

// Subscribe registers a listener. The returned cancel func closes the channel.
func (h *Hub) Subscribe() (<-chan ingest.Event, func()) {
	ch := make(chan ingest.Event, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (h *Hub) Publish(e ingest.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events lost to slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
