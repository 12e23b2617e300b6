// Package bus fans named dashboard events out to SSE and WebSocket
// subscribers. Payloads are marshalled once per publish and shared.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one named dashboard update with its pre-marshalled payload.
type Event struct {
	Name string
	Data []byte
}

// Bus broadcasts events to bounded subscriber queues. A subscriber that
// lets its queue fill up is evicted and its channel closed; per-subscriber
// ordering matches publish order while the subscription lives.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	bufSize int

	// OnDrop is called after a slow subscriber has been evicted.
	OnDrop func()
}

// New creates a bus. bufSize is the per-subscriber queue depth.
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber. The returned cancel func is
// idempotent and safe to call after an eviction.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish marshals payload once and delivers it to every subscriber.
// Marshal failures are logged and the event is not sent.
func (b *Bus) Publish(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("event marshal failed", "event", name, "err", err)
		return
	}
	b.publish(Event{Name: name, Data: data})
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	var evicted []chan Event
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Queue full: the subscriber is not keeping up. Evict it
			// rather than stall or silently thin its event stream.
			delete(b.subs, id)
			evicted = append(evicted, ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range evicted {
		close(ch)
		slog.Warn("slow subscriber evicted", "event", ev.Name)
		if b.OnDrop != nil {
			b.OnDrop()
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
