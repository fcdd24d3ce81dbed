// Package fifoqueue provides the bounded FIFO inbox engines use to decouple
// message receipt from processing. Elements exceeding capacity are silently
// dropped, which is acceptable for a best-effort transport: the protocol
// tolerates loss.
package fifoqueue

import (
	"fmt"
	"sync"

	"github.com/ef-ds/deque"
)

// FifoQueue is a concurrency-safe FIFO queue with a maximum capacity.
type FifoQueue struct {
	mu          sync.Mutex
	queue       deque.Deque
	maxCapacity int
}

// NewFifoQueue returns an empty queue holding at most maxCapacity elements.
func NewFifoQueue(maxCapacity int) (*FifoQueue, error) {
	if maxCapacity < 1 {
		return nil, fmt.Errorf("capacity for fifo queue must be positive, got %d", maxCapacity)
	}
	return &FifoQueue{maxCapacity: maxCapacity}, nil
}

// Push appends the element to the queue. It returns false if the queue is at
// capacity and the element was dropped.
func (q *FifoQueue) Push(element interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queue.Len() >= q.maxCapacity {
		return false
	}
	q.queue.PushBack(element)
	return true
}

// Pop removes and returns the head of the queue. The second return value is
// false if the queue is empty.
func (q *FifoQueue) Pop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.PopFront()
}

// Len returns the current number of queued elements.
func (q *FifoQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}
