package chat

import (
	"sync"

	"github.com/rs/zerolog"
)

// Bus is a typed publish/subscribe channel. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus[T any] struct {
	name string
	log  zerolog.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

func NewBus[T any](name string, log zerolog.Logger) *Bus[T] {
	return &Bus[T]{name: name, log: log, subs: map[uint64]chan T{}}
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes it. The channel is also closed when the bus is closed.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn().Str("bus", b.name).Uint64("subscriber", id).Msg("subscriber too slow, event dropped")
		}
	}
}

func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
