package session

import (
	"sync"

	"stream-analyst/models"
)

// Hub fans published snapshots out to any number of subscribers. Each
// subscriber holds at most one pending snapshot: a slow reader skips
// intermediate states and always sees the latest one next.
type Hub struct {
	mu     sync.Mutex
	latest models.AnalysisSession
	has    bool
	subs   map[int]chan models.AnalysisSession
	nextID int
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan models.AnalysisSession)}
}

// Render publishes a snapshot to every subscriber without blocking
func (h *Hub) Render(s models.AnalysisSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.latest = s
	h.has = true

	for _, ch := range h.subs {
		offer(ch, s)
	}
}

// Subscribe returns a channel of snapshots, primed with the latest one if
// any, and a function that ends the subscription. The channel is closed
// when the subscription ends or the hub is closed.
func (h *Hub) Subscribe() (<-chan models.AnalysisSession, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.AnalysisSession, 1)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.has {
		ch <- h.latest
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Latest returns the most recent snapshot and whether one was published
func (h *Hub) Latest() (models.AnalysisSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.has
}

// Subscribers returns the number of open subscriptions
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later snapshots are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// offer replaces any unread snapshot in ch with s
func offer(ch chan models.AnalysisSession, s models.AnalysisSession) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
