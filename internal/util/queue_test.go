package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int](10)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		item, err := q.Pop(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, i, item)
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	assert.ErrorIs(t, q.Push(3), ErrQueueFull)
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue[int](2)
	_, err := q.Pop(context.Background(), 20)
	assert.ErrorIs(t, err, ErrQueueTimeout)
}

func TestQueuePopCtxDone(t *testing.T) {
	q := NewQueue[int](2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx, 0)
	assert.ErrorIs(t, err, ErrQueueCtxDone)
}

func TestQueueClear(t *testing.T) {
	q := NewQueue[string](10)
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))
	require.NoError(t, q.Push("c"))

	assert.Equal(t, 3, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Clear())

	// The queue stays usable after a clear.
	require.NoError(t, q.Push("d"))
	item, err := q.Pop(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "d", item)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.Push(1))
	q.Close()

	assert.ErrorIs(t, q.Push(2), ErrQueueClosed)

	// Buffered item is still deliverable, then the closed error surfaces.
	item, err := q.Pop(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	_, err = q.Pop(context.Background(), 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
