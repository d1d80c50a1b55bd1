package transport

import "sync"

// Compile-time check that Hub implements Publisher.
var _ Publisher = (*Hub)(nil)

// subscriberBuffer is the per-subscriber channel capacity. Publishing is
// non-blocking; a subscriber that falls this far behind loses events
// rather than stalling the loop controller.
const subscriberBuffer = 512

// Hub is an in-process fan-out bus for progress events.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish delivers the event to every subscriber with non-blocking sends.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together
// with an unsubscribe function. Unsubscribing closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	idx := h.nextSub
	h.nextSub++
	h.subs[idx] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, idx)
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
