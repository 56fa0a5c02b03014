package events

import (
	"sync"
)

// Bus is an in-process pub/sub broker. Components publish engine events onto
// topics instead of calling each other back directly, so observers can attach
// and detach without the publishers knowing.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[Event]map[uint64]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[uint64]chan any)}
}

// Subscribe registers a buffered listener on a topic. The returned function
// removes the subscription and closes the channel; calling it twice is safe.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[e]
	if !ok {
		subs = make(map[uint64]chan any)
		b.topics[e] = subs
	}
	id := b.nextID
	b.nextID++
	ch := make(chan any, buffer)
	subs[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.topics[e][id]; ok {
			delete(b.topics[e], id)
			close(c)
		}
	}
	return ch, unsub
}

// Publish delivers the payload to every subscriber on the topic. A subscriber
// whose buffer is full misses the event; publishers never block.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribers reports the listener count on a topic.
func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[e])
}
