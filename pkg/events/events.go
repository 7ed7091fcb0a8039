package events

import (
	"sync"
)

// Handler receives events of type T.
type Handler[T any] func(event T)

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Bus is a typed publish/subscribe hub.
// Handlers are called synchronously, in subscription order, on the publishing goroutine.
type Bus[T any] struct {
	lock     sync.Mutex
	nextID   uint64
	handlers []subscription[T]
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers a handler and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus[T]) Subscribe(handler Handler[T]) (unsubscribe func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[T]{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every handler subscribed at the time of the call.
// Handlers may subscribe or unsubscribe from within a callback.
func (b *Bus[T]) Publish(event T) {
	b.lock.Lock()
	handlers := make([]Handler[T], len(b.handlers))
	for i, s := range b.handlers {
		handlers[i] = s.handler
	}
	b.lock.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.handlers)
}
