package ringchan

import "sync"

// Broadcaster fans a single writer's values out to any number of subscribers.
// Each subscriber has its own RingChannel, so a slow reader loses its oldest
// values instead of stalling the writer or other readers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*RingChannel[T]]struct{}
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*RingChannel[T]]struct{})}
}

// Subscribe registers a subscriber with the given buffer capacity. The returned
// cancel function unregisters and closes the subscriber channel.
func (b *Broadcaster[T]) Subscribe(capacity int) (<-chan T, func()) {
	rc := New[T](capacity)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		rc.Close()
		return rc.C(), func() {}
	}
	b.subs[rc] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return rc.C(), func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, rc)
			b.mu.Unlock()
			rc.Close()
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for rc := range b.subs {
		rc.ForceSend(v)
	}
}

// Close closes every subscriber channel; later Subscribe calls get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for rc := range b.subs {
		rc.Close()
	}
	b.subs = nil
}
