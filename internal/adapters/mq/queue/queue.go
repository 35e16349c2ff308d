// Package queue defines the contract for enqueuing and consuming settled
// matches on their way to the standings fold.
//
// Implementations may use channels or more advanced structures. The
// default is an in-memory bounded queue.
package queue

import (
	"context"
	"sync"

	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 100000
	defaultBufferSize    = 100000
)

// SettledMatch is the payload type flowing through the queue.
// Using the model.SettledMatch type for type safety.
type SettledMatch = model.SettledMatch

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a settled match to the queue.
	// Returns false if the queue is full and the match was not enqueued.
	Enqueue(ctx context.Context, m SettledMatch) bool

	// Dequeue returns a channel that will receive settled matches as they
	// become available. The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan SettledMatch

	// Len returns the current number of queued matches.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	// After closing, no new matches can be enqueued and the dequeue channel
	// will be closed.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	matches    chan SettledMatch
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}

	// Apply all options
	for _, opt := range opts {
		opt(q)
	}

	// Initialize the matches channel with the configured buffer size
	q.matches = make(chan SettledMatch, q.bufferSize)

	// Initialize metrics
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a settled match to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, m SettledMatch) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return false
	}

	// Check if we're at capacity
	if len(q.matches) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		return false
	}

	select {
	case q.matches <- m:
		metrics.RecordQueueEnqueue()
		// Update queue size and utilization
		currentSize := len(q.matches)
		metrics.UpdateQueueSize(currentSize)
		utilization := float64(currentSize) / float64(q.capacity)
		metrics.UpdateQueueUtilization(utilization)
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		return false // context cancelled
	default:
		metrics.RecordQueueEnqueueError()
		return false // queue is full
	}
}

// Dequeue returns a channel that will receive settled matches as they
// become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan SettledMatch {
	// Wrap the channel to track dequeue metrics
	dequeueChan := make(chan SettledMatch)
	go func() {
		defer close(dequeueChan)
		for m := range q.matches {
			select {
			case dequeueChan <- m:
				metrics.RecordQueueDequeue()
				// Update queue size and utilization after dequeue
				currentSize := len(q.matches)
				metrics.UpdateQueueSize(currentSize)
				utilization := float64(currentSize) / float64(q.capacity)
				metrics.UpdateQueueUtilization(utilization)
			case <-ctx.Done():
				return
			}
		}
	}()
	return dequeueChan
}

// Len returns the current number of queued matches.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	size := len(q.matches)
	metrics.UpdateQueueSize(size)
	utilization := float64(size) / float64(q.capacity)
	metrics.UpdateQueueUtilization(utilization)
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil // already closed
	}

	// Close the matches channel to signal consumers to stop
	close(q.matches)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
