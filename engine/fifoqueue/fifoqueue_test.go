package fifoqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFifoQueueValidation(t *testing.T) {
	_, err := NewFifoQueue(0)
	require.Error(t, err)
	_, err = NewFifoQueue(-1)
	require.Error(t, err)
}

func TestFifoOrdering(t *testing.T) {
	q, err := NewFifoQueue(10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	require.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		element, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, element)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestDropAtCapacity(t *testing.T) {
	q, err := NewFifoQueue(2)
	require.NoError(t, err)

	require.True(t, q.Push("a"))
	require.True(t, q.Push("b"))
	require.False(t, q.Push("c"))
	require.Equal(t, 2, q.Len())

	// popping frees capacity again
	q.Pop()
	require.True(t, q.Push("c"))
}

func TestConcurrentPushPop(t *testing.T) {
	q, err := NewFifoQueue(1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1000, q.Len())

	popped := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		popped++
	}
	require.Equal(t, 1000, popped)
}
