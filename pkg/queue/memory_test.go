package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueOrder(t *testing.T) {
	q := NewInMemoryQueue(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 3, q.Size())

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, item)

	rest, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, rest)
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueueFull(t *testing.T) {
	q := NewInMemoryQueue(1)
	require.NoError(t, q.Enqueue("a"))

	err := q.Enqueue("b")
	require.Error(t, err)
	assert.True(t, IsQueueFull(err))

	require.NoError(t, q.ClearQueue())
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueueDequeueCancelled(t *testing.T) {
	q := NewInMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueueEnqueueWait(t *testing.T) {
	q := NewInMemoryQueue(1)
	require.NoError(t, q.Enqueue("a"))

	enqueued := make(chan error, 1)
	go func() { enqueued <- q.EnqueueWait(context.Background(), "b") }()

	select {
	case <-enqueued:
		t.Fatal("EnqueueWait returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", item)
	require.NoError(t, <-enqueued)

	item, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", item)
}

func TestInMemoryQueueEnqueueWaitCancelled(t *testing.T) {
	q := NewInMemoryQueue(1)
	require.NoError(t, q.Enqueue("a"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, q.EnqueueWait(ctx, "b"), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Size())
}
