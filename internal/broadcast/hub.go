package broadcast

import (
	"maps"
	"slices"
	"sync"
)

// All subscribes to every topic
const All = "*"

// Event is one published snapshot
type Event struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Hub fans state snapshots out to subscribers. The last event of each topic
// is kept so late subscribers start from the current state.
type Hub struct {
	subscribers map[string]map[chan Event]bool
	last        map[string]Event
	mu          sync.RWMutex
}

// NewHub creates a new broadcast hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]bool),
		last:        make(map[string]Event),
	}
}

// Subscribe adds ch for topic and returns the events already published on
// it, ordered by topic.
func (h *Hub) Subscribe(topic string, ch chan Event) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[chan Event]bool)
	}
	h.subscribers[topic][ch] = true

	if topic != All {
		if e, ok := h.last[topic]; ok {
			return []Event{e}
		}
		return nil
	}
	var replay []Event
	for _, t := range slices.Sorted(maps.Keys(h.last)) {
		replay = append(replay, h.last[t])
	}
	return replay
}

// Unsubscribe removes ch and closes it.
func (h *Hub) Unsubscribe(topic string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.subscribers[topic][ch] {
		return
	}
	delete(h.subscribers[topic], ch)
	close(ch)
}

// Broadcast publishes data on topic. Subscribers whose channel is full miss
// the event; the next snapshot supersedes it.
func (h *Hub) Broadcast(topic string, data any) {
	e := Event{Topic: topic, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[topic] = e
	for _, t := range []string{topic, All} {
		for ch := range h.subscribers[t] {
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Last returns the most recent event on topic.
func (h *Hub) Last(topic string) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.last[topic]
	return e, ok
}
