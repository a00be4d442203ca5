package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/agentplan/logging"
)

// ErrClosed is returned when publishing to a closed memory queue.
var ErrClosed = errors.New("queue closed")

// MemoryQueue is a buffered channel queue for tests and single-process use.
type MemoryQueue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
	logger logging.Logger
}

// compile-time assertion
var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a memory queue holding up to size ids (default 64).
func NewMemoryQueue(size int, optFns ...func(o *Options)) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	opts := newOptions(optFns)
	return &MemoryQueue{ch: make(chan string, size), logger: opts.Logger}
}

// Publish enqueues an id, blocking while the buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, requestID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- requestID:
		return nil
	}
}

// Consume runs workerCount workers until ctx ends or the queue is closed
// and drained.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-q.ch:
					if !ok {
						return
					}
					handle(ctx, q.logger, DriverMemory, handler, id)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops accepting ids. Consumers drain what is buffered, then return.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
