// Package bus is the same-device notification bus.
//
// It carries a single invalidation event with no payload. Subscribers
// re-read through the engine; the bus never carries data and never crosses
// devices.
package bus

import (
	"sort"
	"sync"
)

// Kind names an event. DataChanged is the only kind.
type Kind string

// DataChanged is published after every successful mutation.
const DataChanged Kind = "floodsync:data-changed"

// Event is an invalidation signal.
type Event struct {
	Kind Kind
}

// Changed is the event published after mutations.
var Changed = Event{Kind: DataChanged}

// Handler receives published events.
type Handler func(Event)

// Bus delivers events synchronously to every subscriber, in subscription
// order. Handlers run on the publisher's goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to the current subscribers. A handler may
// unsubscribe itself or others while being called.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id]
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
