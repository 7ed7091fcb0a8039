package queue

import "context"

// Queue represents a basic FIFO queue shared between producers and a single consumer.
type Queue interface {
	// Enqueue adds an item to the end of the queue without blocking.
	Enqueue(item interface{}) error
	// EnqueueWait adds an item, waiting for room until ctx is done.
	EnqueueWait(ctx context.Context, item interface{}) error
	// Dequeue blocks until an item is available or ctx is done.
	Dequeue(ctx context.Context) (interface{}, error)
	Size() int
	// ReadAllMessages drains every pending item without blocking.
	ReadAllMessages() ([]interface{}, error)
	ClearQueue() error
}
